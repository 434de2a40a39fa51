package airctrl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTransport answers sync with an incrementing counter and control with
// a plain success acknowledgement unless a hook overrides it.
type fakeTransport struct {
	mu      sync.Mutex
	paths   []string
	counter uint32
	subs    []*fakeSub
	closed  bool

	post    func(ctx context.Context, path string, payload []byte) ([]byte, error)
	observe func(ctx context.Context, onNotify func([]byte)) (Subscription, error)
}

func (f *fakeTransport) Post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	hook := f.post
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, path, payload)
	}
	return f.defaultPost(path)
}

func (f *fakeTransport) defaultPost(path string) ([]byte, error) {
	switch path {
	case PathSync:
		f.mu.Lock()
		f.counter++
		n := f.counter
		f.mu.Unlock()
		return []byte(fmt.Sprintf("%08X", n)), nil
	case PathControl:
		return []byte(`{"status":"success"}`), nil
	}
	return nil, fmt.Errorf("unexpected path %s", path)
}

func (f *fakeTransport) Observe(ctx context.Context, path string, onNotify func([]byte)) (Subscription, error) {
	f.mu.Lock()
	hook := f.observe
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, onNotify)
	}

	sub := &fakeSub{notify: onNotify, done: make(chan struct{})}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) pathLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeTransport) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeTransport) firstSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[0]
}

func (f *fakeTransport) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSub struct {
	notify func([]byte)
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	err      error
	canceled bool
}

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Cancel(ctx context.Context) error {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.end(nil)
	return nil
}

func (s *fakeSub) wasCanceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (s *fakeSub) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// push encrypts a reported-state document and delivers it as a notification
func (s *fakeSub) push(t *testing.T, reported map[string]interface{}) {
	t.Helper()
	s.notify(encryptReport(t, reported))
}

func encryptReport(t *testing.T, reported map[string]interface{}) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]interface{}{
		"state": map[string]interface{}{"reported": reported},
	})
	require.NoError(t, err)
	frame, err := NewCodec().Encrypt("00000001", doc)
	require.NoError(t, err)
	return frame
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a client with a host unique to the test, so the
// process-wide device lock is not shared across tests.
func newTestClient(t *testing.T, ft *fakeTransport, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithTransport(ft),
		WithLogger(discardLogger()),
		WithCommandSpacing(0),
	}
	c, err := NewClient(testHost(t), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testHost(t *testing.T) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
}
