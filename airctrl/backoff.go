package airctrl

import "time"

// reconnectPolicy decides how long the connection manager waits before the
// next connection attempt.
type reconnectPolicy struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	cooldown    time.Duration
	dropDelay   time.Duration
}

func newReconnectPolicy(o *clientOptions) reconnectPolicy {
	return reconnectPolicy{
		base:        o.reconnectBase,
		max:         o.reconnectMax,
		maxAttempts: o.maxAttempts,
		cooldown:    o.reconnectCooldown,
		dropDelay:   o.dropDelay,
	}
}

// afterFailure takes the number of consecutive failed attempts so far and
// returns the wait before the next attempt, the updated count, and whether
// the cooldown applies. Reaching maxAttempts resets the count.
func (p reconnectPolicy) afterFailure(attempts int) (time.Duration, int, bool) {
	attempts++
	if p.maxAttempts > 0 && attempts >= p.maxAttempts {
		return p.cooldown, 0, true
	}
	wait := time.Duration(attempts) * p.base
	if p.max > 0 && wait > p.max {
		wait = p.max
	}
	return wait, attempts, false
}

// afterDrop is used when an established observation ends
func (p reconnectPolicy) afterDrop() (time.Duration, int) {
	return p.dropDelay, 0
}
