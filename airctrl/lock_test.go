package airctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockRegistered(addr string) bool {
	locksMu.Lock()
	defer locksMu.Unlock()
	_, ok := locks[addr]
	return ok
}

func TestLockRegistryReleasesClosedClients(t *testing.T) {
	host := testHost(t)
	addr := host + ":5683"

	a, err := NewClient(host, WithTransport(&fakeTransport{}), WithLogger(discardLogger()))
	require.NoError(t, err)
	b, err := NewClient(host, WithTransport(&fakeTransport{}), WithLogger(discardLogger()))
	require.NoError(t, err)

	assert.Same(t, a.lock, b.lock)
	assert.True(t, lockRegistered(addr))

	require.NoError(t, a.Close())
	assert.True(t, lockRegistered(addr), "lock must survive while another client uses it")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.False(t, lockRegistered(addr))

	c, err := NewClient(host, WithTransport(&fakeTransport{}), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer c.Close()
	assert.NotSame(t, a.lock, c.lock)
	assert.True(t, lockRegistered(addr))
}
