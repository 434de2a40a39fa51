package airctrl

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSendsEnvelope(t *testing.T) {
	ft := &fakeTransport{}
	var syncPayload, controlFrame []byte
	ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
		switch path {
		case PathSync:
			syncPayload = payload
			return []byte("0000001F"), nil
		default:
			controlFrame = payload
			return []byte(`{"status":"success"}`), nil
		}
	}
	c := newTestClient(t, ft)

	res, err := c.Execute(context.Background(), Params{ParamPower: "ON"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.False(t, res.NoOp)

	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{8}$`), string(syncPayload))
	assert.Equal(t, []string{PathSync, PathControl}, ft.pathLog())

	// session key is the counter plus one
	require.True(t, len(controlFrame) > 8)
	assert.Equal(t, "00000020", string(controlFrame[:8]))

	plain, err := NewCodec().Decrypt(controlFrame)
	require.NoError(t, err)

	var env struct {
		State struct {
			Desired map[string]interface{} `json:"desired"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(plain, &env))
	assert.Equal(t, map[string]interface{}{
		"CommandType": "app",
		"DeviceId":    "",
		"EnduserId":   "",
		"D03-02":      "ON",
	}, env.State.Desired)

	m := c.Metrics().Snapshot()
	assert.Equal(t, int64(1), m.SyncRequests)
	assert.Equal(t, int64(1), m.CommandsSent)
	assert.Equal(t, int64(1), m.CommandsSucceeded)
	assert.Equal(t, int64(1), m.LatencyStats.Count)
}

func TestExecuteOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		control func(t *testing.T, frame []byte) ([]byte, error)
		outcome Outcome
		check   func(t *testing.T, err error)
	}{
		{
			name: "plain failure acknowledgement",
			control: func(t *testing.T, frame []byte) ([]byte, error) {
				return []byte(`{"status":"failed"}`), nil
			},
			outcome: OutcomeFailure,
		},
		{
			name: "encrypted success acknowledgement",
			control: func(t *testing.T, frame []byte) ([]byte, error) {
				return NewCodec().Encrypt("0000ABCD", []byte(`{"status":"success"}`))
			},
			outcome: OutcomeSuccess,
		},
		{
			name: "undecryptable body",
			control: func(t *testing.T, frame []byte) ([]byte, error) {
				return []byte("garbage"), nil
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsProtocol(err))
			},
		},
		{
			name: "json without status",
			control: func(t *testing.T, frame []byte) ([]byte, error) {
				return []byte(`{"foo":1}`), nil
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsProtocol(err))
			},
		},
		{
			name: "transport failure",
			control: func(t *testing.T, frame []byte) ([]byte, error) {
				return nil, errors.New("connection refused")
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransport(err))
				assert.False(t, IsTimeout(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{}
			ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
				if path == PathSync {
					return []byte("00000001"), nil
				}
				return tt.control(t, payload)
			}
			c := newTestClient(t, ft)

			res, err := c.Execute(context.Background(), Params{ParamMode: "Sleep"})
			if tt.check != nil {
				require.Error(t, err)
				tt.check(t, err)
				assert.True(t, c.lock.last().IsZero(), "failed command must not record a completion")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
		})
	}
}

func TestExecuteTimeouts(t *testing.T) {
	block := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	t.Run("sync", func(t *testing.T) {
		ft := &fakeTransport{}
		ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
			return block(ctx)
		}
		c := newTestClient(t, ft, WithCommandTimeout(30*time.Millisecond))

		_, err := c.Execute(context.Background(), Params{ParamPower: "OFF"})
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, TimeoutSync, te.Op)
		assert.Equal(t, int64(1), c.Metrics().CommandsTimedOut.Value())
	})

	t.Run("command", func(t *testing.T) {
		ft := &fakeTransport{}
		var slow atomic.Bool
		ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
			if path == PathControl && slow.Load() {
				return block(ctx)
			}
			return ft.defaultPost(path)
		}
		c := newTestClient(t, ft, WithCommandTimeout(30*time.Millisecond))

		_, err := c.Execute(context.Background(), Params{ParamPower: "ON"})
		require.NoError(t, err)
		completed := c.lock.last()
		require.False(t, completed.IsZero())

		slow.Store(true)
		_, err = c.Execute(context.Background(), Params{ParamPower: "OFF"})
		require.Error(t, err)
		assert.True(t, IsTimeout(err))
		assert.ErrorIs(t, err, &TimeoutError{Op: TimeoutCommand})
		assert.False(t, IsLockTimeout(err))
		assert.Equal(t, completed, c.lock.last(), "timeout must not move the completion timestamp")
	})
}

func TestExecuteLockTimeout(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithLockTimeout(20*time.Millisecond))

	require.True(t, c.lock.acquire(context.Background(), 0))
	defer c.lock.release()

	_, err := c.Execute(context.Background(), Params{ParamPower: "ON"})
	require.Error(t, err)
	assert.True(t, IsLockTimeout(err))
	assert.Empty(t, ft.pathLog(), "nothing may be sent without the lock")
	assert.Equal(t, int64(1), c.Metrics().LockTimeouts.Value())
}

func TestExecuteLockDeadline(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithLockTimeout(time.Minute))

	require.True(t, c.lock.acquire(context.Background(), 0))
	defer c.lock.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, Params{ParamPower: "ON"})
	assert.True(t, IsLockTimeout(err), "got %v", err)

	_, err = c.Sync(ctx)
	assert.True(t, IsLockTimeout(err), "got %v", err)
	assert.Equal(t, int64(2), c.Metrics().LockTimeouts.Value())

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = c.Execute(ctx, Params{ParamPower: "ON"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ft.pathLog())
}

func TestSameDeviceCommandsSerialize(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	var orderMu sync.Mutex
	var order []string

	ft := &fakeTransport{}
	ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		orderMu.Lock()
		order = append(order, path)
		orderMu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return ft.defaultPost(path)
	}

	// two clients on the same address share the device lock
	a := newTestClient(t, ft)
	b, err := NewClient(testHost(t), WithTransport(ft), WithLogger(discardLogger()), WithCommandSpacing(0))
	require.NoError(t, err)
	defer b.Close()

	var wg sync.WaitGroup
	for _, c := range []*Client{a, b, a, b} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_, err := c.Execute(context.Background(), Params{ParamTrigger: true})
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInflight.Load())
	require.Len(t, order, 8)
	for i := 0; i < len(order); i += 2 {
		assert.Equal(t, PathSync, order[i])
		assert.Equal(t, PathControl, order[i+1])
	}
}

func TestDifferentDevicesRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	newDevice := func(name string) *Client {
		var once sync.Once
		ft := &fakeTransport{}
		ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
			if path == PathSync {
				once.Do(started.Done)
				select {
				case <-release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return ft.defaultPost(path)
		}
		c, err := NewClient(testHost(t)+name, WithTransport(ft), WithLogger(discardLogger()),
			WithCommandSpacing(0), WithCommandTimeout(time.Second))
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	a, b := newDevice("-a"), newDevice("-b")

	errs := make(chan error, 2)
	for _, c := range []*Client{a, b} {
		go func(c *Client) {
			_, err := c.Execute(context.Background(), Params{ParamTrigger: true})
			errs <- err
		}(c)
	}
	// each sync only returns once both devices are inside their sequence
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestCommandSpacing(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithCommandSpacing(50*time.Millisecond))

	_, err := c.Execute(context.Background(), Params{ParamPower: "ON"})
	require.NoError(t, err)
	first := c.lock.last()

	_, err = c.Execute(context.Background(), Params{ParamPower: "OFF"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, c.lock.last().Sub(first), 50*time.Millisecond)
}

func TestIdempotentCommands(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)

	speed := 40
	c.current.Store(&State{Power: PowerOn, Mode: ModeManual, ManualSpeed: &speed})

	res, err := c.ChangePower(context.Background(), PowerOn)
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	res, err = c.ChangeMode(context.Background(), ModeManual)
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	res, err = c.SetManualSpeed(context.Background(), 40)
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	assert.Empty(t, ft.pathLog())
	assert.Equal(t, int64(3), c.Metrics().CommandsSkipped.Value())

	res, err = c.ChangePower(context.Background(), PowerOff)
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, []string{PathSync, PathControl}, ft.pathLog())

	// no optimistic update: the state only changes with the next report
	st, _ := c.CurrentState()
	assert.Equal(t, PowerOn, st.Power)
}

func TestHighLevelParams(t *testing.T) {
	var desired map[string]interface{}
	ft := &fakeTransport{}
	ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
		if path == PathControl {
			plain, err := NewCodec().Decrypt(payload)
			require.NoError(t, err)
			var env struct {
				State struct {
					Desired map[string]interface{} `json:"desired"`
				} `json:"state"`
			}
			require.NoError(t, json.Unmarshal(plain, &env))
			desired = env.State.Desired
		}
		return ft.defaultPost(path)
	}
	c := newTestClient(t, ft)
	ctx := context.Background()

	_, err := c.ChangeMode(ctx, ModeAutoPlus)
	require.NoError(t, err)
	assert.Equal(t, "Auto+", desired[ParamMode])

	_, err = c.ChangeMode(ctx, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, "Auto General", desired[ParamMode])

	_, err = c.SetManualSpeed(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, "Manual", desired[ParamMode])
	assert.Equal(t, float64(100), desired[ParamManualSpeed])

	_, err = c.SetManualSpeed(ctx, -3)
	require.NoError(t, err)
	assert.Equal(t, float64(1), desired[ParamManualSpeed])

	_, err = c.ChangePower(ctx, PowerOff)
	require.NoError(t, err)
	assert.Equal(t, "OFF", desired[ParamPower])
}

func TestRejectedCommand(t *testing.T) {
	ft := &fakeTransport{}
	ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
		if path == PathControl {
			return []byte(`{"status":"failed"}`), nil
		}
		return ft.defaultPost(path)
	}
	c := newTestClient(t, ft)

	res, err := c.ChangePower(context.Background(), PowerOn)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, int64(1), c.Metrics().CommandsRejected.Value())
}

func TestSync(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)

	counter, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00000001", string(counter))
	assert.True(t, c.lock.last().IsZero())

	ft.post = func(ctx context.Context, path string, payload []byte) ([]byte, error) {
		return []byte("  "), nil
	}
	_, err = c.Sync(context.Background())
	assert.True(t, IsProtocol(err))
}

func TestExecuteAfterClose(t *testing.T) {
	c := newTestClient(t, &fakeTransport{})
	require.NoError(t, c.Close())

	_, err := c.Execute(context.Background(), Params{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClampSpeed(t *testing.T) {
	assert.Equal(t, 1, ClampSpeed(0))
	assert.Equal(t, 1, ClampSpeed(1))
	assert.Equal(t, 57, ClampSpeed(57))
	assert.Equal(t, 100, ClampSpeed(101))
}
