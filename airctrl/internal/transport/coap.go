// Package transport provides the CoAP transport for purifier communication
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/plgd-dev/go-coap/v3/udp/client"
)

var (
	// ErrConnectionClosed is reported when the underlying CoAP connection ends
	ErrConnectionClosed = errors.New("connection closed")
	// ErrObserveNotSupported is returned when the registration reply carries
	// no Observe option
	ErrObserveNotSupported = errors.New("observe not supported by device")
	// ErrObservationEnded is reported when a notification without the
	// Observe option closes the stream
	ErrObservationEnded = errors.New("observation ended by device")
)

// CodeError is returned when the device answers with a non-2.xx code
type CodeError struct {
	Path string
	Code codes.Code
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("%s: unexpected response code %v", e.Path, e.Code)
}

// CoAPTransport implements request/response and observe over CoAP/UDP
type CoAPTransport struct {
	addr           string
	conn           *client.Conn
	mu             sync.RWMutex
	requestTimeout time.Duration
	closed         bool
}

// NewCoAPTransport creates a new CoAP transport for host:port
func NewCoAPTransport(addr string) *CoAPTransport {
	return &CoAPTransport{
		addr:           addr,
		requestTimeout: 10 * time.Second,
	}
}

// SetRequestTimeout sets the timeout used when the caller's context has none
func (t *CoAPTransport) SetRequestTimeout(d time.Duration) {
	t.mu.Lock()
	t.requestTimeout = d
	t.mu.Unlock()
}

func (t *CoAPTransport) connection() (*client.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrConnectionClosed
	}
	if t.conn != nil {
		return t.conn, nil
	}

	conn, err := udp.Dial(t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return conn, nil
}

// drop discards a failed request connection so the next request redials
func (t *CoAPTransport) drop(conn *client.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

// Close closes the request connection. Observations own their own
// connections and are closed through Cancel.
func (t *CoAPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsClosed returns true if the transport is closed
func (t *CoAPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Post sends payload as text/plain and returns the response body
func (t *CoAPTransport) Post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	timeout := t.requestTimeout
	t.mu.RUnlock()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := conn.Post(ctx, path, message.TextPlain, bytes.NewReader(payload))
	if err != nil {
		t.drop(conn)
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer conn.ReleaseMessage(resp)

	if !IsSuccess(resp.Code()) {
		return nil, &CodeError{Path: path, Code: resp.Code()}
	}
	body, err := resp.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return body, nil
}

// IsSuccess reports whether code is in the 2.xx class
func IsSuccess(code codes.Code) bool {
	return code>>5 == 2
}

type observer interface {
	Cancel(ctx context.Context, opts ...message.Option) error
	Canceled() bool
}

// Observation is a running observe registration on its own connection
type Observation struct {
	conn *client.Conn
	obs  observer
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// Observe dials a dedicated connection and registers for notifications on
// path. onNotify receives each 2.xx payload in arrival order. A non-2.xx
// notification, a 2.xx notification without the Observe option or the end
// of the connection finishes the observation.
func (t *CoAPTransport) Observe(ctx context.Context, path string, onNotify func([]byte)) (*Observation, error) {
	if t.IsClosed() {
		return nil, ErrConnectionClosed
	}

	conn, err := udp.Dial(t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}

	o := &Observation{conn: conn, done: make(chan struct{})}
	obs, err := conn.Observe(ctx, path, func(msg *pool.Message) {
		if !IsSuccess(msg.Code()) {
			o.finish(&CodeError{Path: path, Code: msg.Code()})
			return
		}
		body, err := msg.ReadBody()
		if err != nil {
			o.finish(fmt.Errorf("read notification: %w", err))
			return
		}
		onNotify(body)
		if !msg.HasOption(message.Observe) {
			o.finish(ErrObservationEnded)
		}
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("observe %s: %w", path, err)
	}
	if obs.Canceled() {
		_ = conn.Close()
		return nil, fmt.Errorf("observe %s: %w", path, ErrObserveNotSupported)
	}
	o.obs = obs

	go func() {
		select {
		case <-conn.Done():
			o.finish(ErrConnectionClosed)
		case <-o.done:
			_ = conn.Close()
		}
	}()

	return o, nil
}

func (o *Observation) finish(err error) {
	o.once.Do(func() {
		o.mu.Lock()
		o.err = err
		o.mu.Unlock()
		close(o.done)
	})
}

// Done is closed when the observation ends for any reason
func (o *Observation) Done() <-chan struct{} {
	return o.done
}

// Err returns why the observation ended, nil after Cancel
func (o *Observation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Cancel deregisters the observation and closes its connection. It is a
// no-op once the observation has ended.
func (o *Observation) Cancel(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	default:
	}
	var err error
	if o.obs != nil && !o.obs.Canceled() {
		err = o.obs.Cancel(ctx)
	}
	o.finish(nil)
	return err
}
