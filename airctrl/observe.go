package airctrl

import (
	"bytes"
	"errors"
	"log/slog"
	"time"
)

var errIdle = errors.New("no status report within idle timeout")

// handleReport decrypts one status notification, records it and publishes
// the normalized state. Malformed notifications are counted and skipped.
func (c *Client) handleReport(gen uint64, frame []byte) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	if !c.isCurrent(gen) {
		return
	}

	c.metrics.ReportsReceived.Inc()
	c.metrics.BytesReceived.Add(int64(len(frame)))
	c.metrics.RecordActivity()
	c.touchWatchdog(gen)

	plain, err := c.codec.Decrypt(bytes.TrimSpace(frame))
	if err != nil {
		c.metrics.ReportsMalformed.Inc()
		c.logger.Warn("undecryptable status report", slog.String("error", err.Error()))
		return
	}
	raw, err := ParseReport(plain)
	if err != nil {
		c.metrics.ReportsMalformed.Inc()
		c.logger.Warn("unparsable status report", slog.String("error", err.Error()))
		return
	}

	initial := raw.Clone()
	if c.initial.CompareAndSwap(nil, &initial) {
		c.logger.Debug("initial status stored",
			slog.String("model", DetectModel(raw).String()),
			slog.String("firmware", raw.Firmware()),
		)
	}
	c.logger.Debug("status received", slog.Any("report", map[string]interface{}(raw)))

	st := Normalize(raw)
	c.current.Store(&st)
	c.bus.publish(st)
	c.metrics.StatesPublished.Inc()
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.gen
}

// watch waits for the stream to end
func (c *Client) watch(gen uint64, sub Subscription) {
	select {
	case <-sub.Done():
		c.dropped(gen, sub.Err())
	case <-c.done:
	}
}

// armWatchdog treats a silent stream as dropped after the idle timeout
func (c *Client) armWatchdog(gen uint64) {
	timeout := c.opts.observeIdleTimeout
	if timeout <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = time.AfterFunc(timeout, func() {
		c.dropped(gen, errIdle)
	})
}

func (c *Client) touchWatchdog(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil && gen == c.gen {
		c.watchdog.Reset(c.opts.observeIdleTimeout)
	}
}
