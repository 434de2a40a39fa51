package airctrl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutErrors(t *testing.T) {
	lock := &TimeoutError{Op: TimeoutLock, Device: "d:5683"}
	cmd := &TimeoutError{Op: TimeoutCommand, Device: "d:5683"}

	assert.True(t, IsTimeout(lock))
	assert.True(t, IsTimeout(cmd))
	assert.True(t, IsLockTimeout(lock))
	assert.False(t, IsLockTimeout(cmd))
	assert.True(t, IsLockTimeout(fmt.Errorf("trigger: %w", lock)))

	assert.ErrorIs(t, cmd, &TimeoutError{Op: TimeoutCommand})
	assert.NotErrorIs(t, cmd, &TimeoutError{Op: TimeoutSync})
	assert.Equal(t, "airctrl: lock timeout: device=d:5683", lock.Error())
}

func TestWrappedErrors(t *testing.T) {
	te := &TransportError{Op: "post", Err: context.Canceled}
	assert.True(t, IsTransport(te))
	assert.ErrorIs(t, te, context.Canceled)
	assert.False(t, IsProtocol(te))

	pe := &ProtocolError{Op: "control", Err: errors.New("bad json")}
	assert.True(t, IsProtocol(fmt.Errorf("wrap: %w", pe)))
	assert.False(t, IsTransport(pe))

	ce := &CapabilityError{Field: ParamMode, Value: "Allergen"}
	assert.ErrorIs(t, ce, ErrCapability)
	assert.Contains(t, ce.Error(), "Allergen")
}

func TestClassifyTransportErr(t *testing.T) {
	assert.Nil(t, classifyTransportErr("post", nil))
	assert.ErrorIs(t, classifyTransportErr("post", context.DeadlineExceeded), context.DeadlineExceeded)
	assert.True(t, IsTransport(classifyTransportErr("post", errors.New("refused"))))
}
