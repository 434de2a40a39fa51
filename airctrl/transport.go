package airctrl

import (
	"context"
	"errors"

	"github.com/edgeo-scada/airctrl/airctrl/internal/cipher"
	"github.com/edgeo-scada/airctrl/airctrl/internal/transport"
)

// Transport carries CoAP requests to a single device
type Transport interface {
	// Post sends payload to path and returns the response body. Non-2.xx
	// responses are errors.
	Post(ctx context.Context, path string, payload []byte) ([]byte, error)
	// Observe registers for notifications on path. onNotify is called
	// sequentially, in arrival order.
	Observe(ctx context.Context, path string, onNotify func([]byte)) (Subscription, error)
	Close() error
}

// Subscription is a running observation
type Subscription interface {
	// Done is closed when the stream ends
	Done() <-chan struct{}
	// Err reports why the stream ended; nil after Cancel
	Err() error
	Cancel(ctx context.Context) error
}

// Codec derives session keys and seals payloads
type Codec interface {
	DeriveKey(counter []byte) (string, error)
	Encrypt(key string, plaintext []byte) ([]byte, error)
	Decrypt(frame []byte) ([]byte, error)
}

// NewCodec returns the standard payload codec
func NewCodec() Codec {
	return cipher.New()
}

// coapTransport adapts the CoAP transport to Transport
type coapTransport struct {
	t *transport.CoAPTransport
}

func newCoAPTransport(addr string) *coapTransport {
	return &coapTransport{t: transport.NewCoAPTransport(addr)}
}

func (c *coapTransport) Post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	body, err := c.t.Post(ctx, path, payload)
	return body, classifyTransportErr("post "+path, err)
}

func (c *coapTransport) Observe(ctx context.Context, path string, onNotify func([]byte)) (Subscription, error) {
	obs, err := c.t.Observe(ctx, path, onNotify)
	if err != nil {
		return nil, classifyTransportErr("observe "+path, err)
	}
	return obs, nil
}

func (c *coapTransport) Close() error {
	return c.t.Close()
}

// classifyTransportErr keeps context errors intact for timeout
// classification and maps unexpected response codes to protocol errors.
func classifyTransportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var ce *transport.CodeError
	if errors.As(err, &ce) {
		return &ProtocolError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
