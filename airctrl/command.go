package airctrl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Execute runs one command on the device: fetch a counter, derive the session
// key, send the encrypted desired-state envelope and parse the
// acknowledgement. Commands on the same device address never overlap.
//
// A device that answers "failed" yields a result with OutcomeFailure and a
// nil error. Timeouts, transport failures and undecodable responses are
// returned as errors and leave the last-command timestamp untouched.
func (c *Client) Execute(ctx context.Context, params Params) (CommandResult, error) {
	if c.isClosed() {
		return CommandResult{}, ErrClosed
	}
	return c.execute(ctx, params)
}

func (c *Client) execute(ctx context.Context, params Params) (CommandResult, error) {
	log := c.logger.With(slog.String("request_id", uuid.NewString()))

	if err := c.acquireLock(ctx); err != nil {
		return CommandResult{}, err
	}
	defer c.lock.release()

	if err := c.lock.waitSpacing(ctx, c.opts.commandSpacing); err != nil {
		return CommandResult{}, err
	}

	c.metrics.ActiveCommands.Inc()
	defer c.metrics.ActiveCommands.Dec()

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, c.opts.commandTimeout)
	defer cancel()

	counter, err := c.fetchCounter(cctx)
	if err != nil {
		c.countFailure(err)
		return CommandResult{}, err
	}
	log.Debug("counter received", slog.String("counter", string(bytes.TrimSpace(counter))))

	key, err := c.codec.DeriveKey(counter)
	if err != nil {
		c.metrics.CommandsFailed.Inc()
		return CommandResult{}, &ProtocolError{Op: "derive key", Err: err}
	}

	plaintext, err := buildEnvelope(params)
	if err != nil {
		c.metrics.CommandsFailed.Inc()
		return CommandResult{}, fmt.Errorf("encode command: %w", err)
	}
	frame, err := c.codec.Encrypt(key, plaintext)
	if err != nil {
		c.metrics.CommandsFailed.Inc()
		return CommandResult{}, fmt.Errorf("encrypt command: %w", err)
	}

	c.metrics.CommandsSent.Inc()
	c.metrics.BytesSent.Add(int64(len(frame)))
	c.metrics.RecordActivity()

	body, err := c.transport.Post(cctx, PathControl, frame)
	if err != nil {
		err = c.classify(cctx, TimeoutCommand, "control", err)
		c.countFailure(err)
		log.Debug("command failed", slog.String("error", err.Error()))
		return CommandResult{}, err
	}
	c.metrics.BytesReceived.Add(int64(len(body)))

	result, err := c.parseResult(body)
	if err != nil {
		c.metrics.CommandsFailed.Inc()
		return CommandResult{}, err
	}

	c.lock.markCompleted(time.Now())
	c.metrics.CommandLatency.Record(time.Since(start))
	if result.Succeeded() {
		c.metrics.CommandsSucceeded.Inc()
	} else {
		c.metrics.CommandsRejected.Inc()
	}

	log.Debug("command completed",
		slog.String("outcome", result.Outcome.String()),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// Sync fetches a fresh counter under the device lock. The counter is
// consumed, so it cannot be reused for a command.
func (c *Client) Sync(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if err := c.acquireLock(ctx); err != nil {
		return nil, err
	}
	defer c.lock.release()

	cctx, cancel := context.WithTimeout(ctx, c.opts.commandTimeout)
	defer cancel()
	return c.fetchCounter(cctx)
}

// acquireLock waits for the device lock. Running out of time while waiting,
// on the lock timeout or on the caller's deadline, is a lock timeout.
// Cancellation is returned as is.
func (c *Client) acquireLock(ctx context.Context) error {
	if c.lock.acquire(ctx, c.opts.lockTimeout) {
		return nil
	}
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	c.metrics.LockTimeouts.Inc()
	c.logger.Warn("device lock wait timed out", slog.Duration("timeout", c.opts.lockTimeout))
	return &TimeoutError{Op: TimeoutLock, Device: c.addr}
}

// fetchCounter posts a random nonce to the sync resource. The caller holds
// the device lock.
func (c *Client) fetchCounter(ctx context.Context) ([]byte, error) {
	nonce := make([]byte, 4)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	payload := []byte(strings.ToUpper(hex.EncodeToString(nonce)))

	c.metrics.SyncRequests.Inc()
	c.metrics.BytesSent.Add(int64(len(payload)))

	body, err := c.transport.Post(ctx, PathSync, payload)
	if err != nil {
		return nil, c.classify(ctx, TimeoutSync, "sync", err)
	}
	c.metrics.BytesReceived.Add(int64(len(body)))

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ProtocolError{Op: "sync", Err: errors.New("empty counter")}
	}
	return body, nil
}

// classify turns a request error into the client error taxonomy. A request
// that ran out of time reports which phase it was in.
func (c *Client) classify(ctx context.Context, phase TimeoutOp, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: phase, Device: c.addr}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pe *ProtocolError
	var te *TransportError
	if errors.As(err, &pe) || errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

func (c *Client) countFailure(err error) {
	if IsTimeout(err) {
		c.metrics.CommandsTimedOut.Inc()
		return
	}
	c.metrics.CommandsFailed.Inc()
}

// buildEnvelope merges params into the fixed desired-state envelope
func buildEnvelope(params Params) ([]byte, error) {
	desired := map[string]interface{}{
		"CommandType": "app",
		"DeviceId":    "",
		"EnduserId":   "",
	}
	for k, v := range params {
		desired[k] = v
	}
	return json.Marshal(map[string]interface{}{
		"state": map[string]interface{}{
			"desired": desired,
		},
	})
}

// parseResult accepts both plain JSON acknowledgements and encrypted frames
func (c *Client) parseResult(body []byte) (CommandResult, error) {
	data := bytes.TrimSpace(body)
	if len(data) == 0 {
		return CommandResult{}, &ProtocolError{Op: "control", Err: errors.New("empty response")}
	}
	if data[0] != '{' {
		plain, err := c.codec.Decrypt(data)
		if err != nil {
			return CommandResult{}, &ProtocolError{Op: "control", Err: err}
		}
		data = plain
	}

	var ack struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return CommandResult{}, &ProtocolError{Op: "control", Err: err}
	}
	if ack.Status == "" {
		return CommandResult{}, &ProtocolError{Op: "control", Err: errors.New("response has no status")}
	}
	if strings.EqualFold(ack.Status, "success") {
		return CommandResult{Outcome: OutcomeSuccess}, nil
	}
	return CommandResult{Outcome: OutcomeFailure}, nil
}

// ChangePower switches the purifier on or off. It is a no-op when the
// current state already has the requested power.
func (c *Client) ChangePower(ctx context.Context, p PowerStatus) (CommandResult, error) {
	if st, ok := c.CurrentState(); ok && st.Power == p {
		return c.skip("power", p.String())
	}
	return c.command(ctx, Params{ParamPower: p.Token()})
}

// ChangeMode selects an operating mode. It is a no-op when the current
// state already reports that mode.
func (c *Client) ChangeMode(ctx context.Context, m Mode) (CommandResult, error) {
	if st, ok := c.CurrentState(); ok && st.Mode == m {
		return c.skip("mode", m.String())
	}
	return c.command(ctx, Params{ParamMode: m.Mnemonic()})
}

// SetManualSpeed switches to manual mode with speed clamped to 1-100
func (c *Client) SetManualSpeed(ctx context.Context, speed int) (CommandResult, error) {
	speed = ClampSpeed(speed)
	if st, ok := c.CurrentState(); ok && st.Mode == ModeManual && st.ManualSpeed != nil && *st.ManualSpeed == speed {
		return c.skip("speed", fmt.Sprint(speed))
	}
	return c.command(ctx, Params{
		ParamMode:        ModeManual.Mnemonic(),
		ParamManualSpeed: speed,
	})
}

// ClampSpeed bounds a manual speed to the range the device accepts
func ClampSpeed(speed int) int {
	if speed < MinManualSpeed {
		return MinManualSpeed
	}
	if speed > MaxManualSpeed {
		return MaxManualSpeed
	}
	return speed
}

func (c *Client) command(ctx context.Context, params Params) (CommandResult, error) {
	res, err := c.Execute(ctx, params)
	if err != nil {
		return res, err
	}
	if !res.Succeeded() {
		return res, fmt.Errorf("%w: device=%s", ErrCommandFailed, c.addr)
	}
	return res, nil
}

func (c *Client) skip(field, value string) (CommandResult, error) {
	c.metrics.CommandsSkipped.Inc()
	c.logger.Debug("command skipped, device already in requested state",
		slog.String("field", field),
		slog.String("value", value),
	)
	return CommandResult{Outcome: OutcomeSuccess, NoOp: true}, nil
}
