// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package airctrl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client talks to one purifier. It owns the connection cycle (trigger,
// observe, reconnect), the command channel and the latest normalized state.
type Client struct {
	opts      *clientOptions
	addr      string
	transport Transport
	codec     Codec
	lock      *deviceLock
	policy    reconnectPolicy

	state         atomic.Int32
	attempts      atomic.Int32
	lastConnected atomic.Int64

	current atomic.Pointer[State]
	initial atomic.Pointer[RawReport]

	bus *eventBus

	// Connection cycle, guarded by mu. gen is bumped whenever a stream is
	// replaced so late callbacks from an old stream are ignored.
	mu        sync.Mutex
	observing bool
	closed    bool
	gen       uint64
	sub       Subscription
	retry     *time.Timer
	watchdog  *time.Timer

	// Serializes decrypt, normalize and publish for incoming reports
	reportMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Metrics
	metrics *Metrics

	// Logger
	logger *slog.Logger
}

// NewClient creates a client for the purifier at host. host may carry a
// port, otherwise the configured port is used.
func NewClient(host string, opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("airctrl: empty host")
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(options.port))
	}

	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    options,
		addr:    addr,
		lock:    lockFor(addr),
		policy:  newReconnectPolicy(options),
		bus:     newEventBus(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		metrics: NewMetrics(),
		logger:  logger.With(slog.String("device", addr)),
	}

	c.transport = options.transport
	if c.transport == nil {
		t := newCoAPTransport(addr)
		t.t.SetRequestTimeout(options.commandTimeout)
		c.transport = t
	}
	c.codec = options.codec
	if c.codec == nil {
		c.codec = NewCodec()
	}

	c.logger.Debug("client created")
	return c, nil
}

// Addr returns the device address as host:port
func (c *Client) Addr() string {
	return c.addr
}

// Observe starts the connection cycle in the background: trigger the
// device, subscribe to its status stream, and reconnect whenever either
// fails. It returns immediately; failures never surface here.
func (c *Client) Observe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.observing {
		c.mu.Unlock()
		return ErrAlreadyObserving
	}
	c.observing = true
	c.mu.Unlock()

	go c.connect()
	return nil
}

// IsConnected reports whether the status stream is established
func (c *Client) IsConnected() bool {
	return c.State() == StateObserving
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Attempts returns the number of consecutive failed connection attempts
func (c *Client) Attempts() int {
	return int(c.attempts.Load())
}

// LastConnected returns when the status stream was last established, or
// the zero time if it never was.
func (c *Client) LastConnected() time.Time {
	ns := c.lastConnected.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// InitialStatus returns the first report received since the client was
// created. It never changes once set.
func (c *Client) InitialStatus() (RawReport, bool) {
	r := c.initial.Load()
	if r == nil {
		return nil, false
	}
	return r.Clone(), true
}

// CurrentState returns the state derived from the most recent report
func (c *Client) CurrentState() (State, bool) {
	s := c.current.Load()
	if s == nil {
		return State{}, false
	}
	return *s, true
}

// Subscribe registers h for every published state. Handlers run on the
// report goroutine in subscription order and must not block for long.
func (c *Client) Subscribe(h StateHandler) (unsubscribe func()) {
	unsub := c.bus.subscribe(h)
	c.metrics.Subscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			c.metrics.Subscribers.Dec()
		})
	}
}

// Metrics returns the client metrics
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Close stops the connection cycle, cancels pending retries and the status
// stream, and closes the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	close(c.done)
	c.cancel()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := sub.Cancel(ctx); err != nil {
			c.logger.Debug("cancel observation", slog.String("error", err.Error()))
		}
		cancel()
	}

	c.setState(StateDisconnected)
	releaseLock(c.lock)

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}

	c.logger.Info("closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s ConnectionState) {
	old := ConnectionState(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("connection state changed",
			slog.String("from", old.String()),
			slog.String("to", s.String()),
		)
	}
}

// connect runs one connection attempt: trigger, then subscribe
func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setState(StateConnecting)
	c.metrics.ConnectAttempts.Inc()
	c.logger.Info("connecting", slog.Int("attempt", c.Attempts()+1))

	res, err := c.execute(c.ctx, Params{ParamTrigger: true})
	if err != nil {
		c.connectFailed(gen, fmt.Errorf("trigger: %w", err))
		return
	}
	if !res.Succeeded() {
		c.logger.Warn("status trigger not acknowledged, subscribing anyway")
	}

	octx, cancel := context.WithTimeout(c.ctx, c.opts.commandTimeout)
	sub, err := c.transport.Observe(octx, PathStatus, func(frame []byte) {
		c.handleReport(gen, frame)
	})
	cancel()
	if err != nil {
		c.connectFailed(gen, fmt.Errorf("observe: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = sub.Cancel(context.Background())
		return
	}
	c.sub = sub
	c.mu.Unlock()

	c.attempts.Store(0)
	c.lastConnected.Store(time.Now().UnixNano())
	c.setState(StateObserving)
	c.metrics.ConnectSuccesses.Inc()
	c.armWatchdog(gen)
	c.logger.Info("observing status")

	go c.watch(gen, sub)
}

// connectFailed schedules the next attempt with backoff. The state stays
// CONNECTING while the retry is pending.
func (c *Client) connectFailed(gen uint64, err error) {
	c.mu.Lock()
	stale := c.closed || gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	c.metrics.ConnectFailures.Inc()
	wait, attempts, cooldown := c.policy.afterFailure(c.Attempts())
	c.attempts.Store(int32(attempts))
	if cooldown {
		c.metrics.Cooldowns.Inc()
	}

	c.logger.Error("connection attempt failed",
		slog.String("error", err.Error()),
		slog.Duration("retry_in", wait),
		slog.Bool("cooldown", cooldown),
	)
	c.schedule(wait)
}

// dropped handles the end of an established stream
func (c *Client) dropped(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	sub := c.sub
	c.sub = nil
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()

	if sub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = sub.Cancel(ctx)
		cancel()
	}

	c.setState(StateDisconnected)
	c.metrics.Drops.Inc()

	wait, attempts := c.policy.afterDrop()
	c.attempts.Store(int32(attempts))

	attrs := []any{slog.Duration("retry_in", wait)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.Warn("status stream ended", attrs...)
	c.schedule(wait)
}

// schedule replaces any pending retry with one firing after wait
func (c *Client) schedule(wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(wait, c.connect)
}
