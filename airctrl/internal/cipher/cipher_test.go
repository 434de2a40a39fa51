package cipher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	c := New()

	tests := []struct {
		name    string
		counter string
		want    string
	}{
		{"simple", "00000001", "00000002"},
		{"uppercase hex", "0000000F", "00000010"},
		{"lowercase hex", "a1b2c3d4", "A1B2C3D5"},
		{"wraps", "FFFFFFFF", "00000000"},
		{"trailing whitespace", "12345678\n", "12345679"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.DeriveKey([]byte(tt.counter))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveKeyRejectsGarbage(t *testing.T) {
	_, err := New().DeriveKey([]byte("not-hex"))
	assert.Error(t, err)

	_, err = New().DeriveKey([]byte("123456789"))
	assert.Error(t, err, "counter wider than 32 bits")
}

func TestEncryptFrameLayout(t *testing.T) {
	c := New()
	frame, err := c.Encrypt("0000ABCD", []byte(`{"state":{}}`))
	require.NoError(t, err)

	s := string(frame)
	assert.True(t, strings.HasPrefix(s, "0000ABCD"))
	assert.Equal(t, strings.ToUpper(s), s)
	// 12 bytes of plaintext pad to one block
	assert.Len(t, s, keyLen+aesHex(1)+digestLen)
	assert.Equal(t, digest("0000ABCD", s[keyLen:len(s)-digestLen]), s[len(s)-digestLen:])
}

func TestRoundTrip(t *testing.T) {
	c := New()
	payloads := []string{
		"",
		`{"state":{"reported":{"D03224":7,"D0310C":"Auto General","D03102":1}}}`,
		strings.Repeat("x", 16),
	}
	for _, p := range payloads {
		frame, err := c.Encrypt("1234ABCD", []byte(p))
		require.NoError(t, err)

		got, err := c.Decrypt(frame)
		require.NoError(t, err)
		assert.Equal(t, p, string(got))
	}
}

func TestDecryptIsDeterministicForKey(t *testing.T) {
	c := New()
	a, err := c.Encrypt("00000002", []byte("hello"))
	require.NoError(t, err)
	b, err := c.Encrypt("00000002", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := c.Encrypt("00000003", []byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := New()
	frame, err := c.Encrypt("00000002", []byte(`{"status":"success"}`))
	require.NoError(t, err)

	tampered := []byte(string(frame))
	if tampered[keyLen] == 'A' {
		tampered[keyLen] = 'B'
	} else {
		tampered[keyLen] = 'A'
	}
	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDigestMismatch)

	_, err = c.Decrypt([]byte("00000002ABCD"))
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecryptWrongSecret(t *testing.T) {
	frame, err := New().Encrypt("00000002", []byte(`{"status":"success"}`))
	require.NoError(t, err)

	// The digest does not involve the secret, so only the padding check or
	// the plaintext can reveal the mismatch.
	got, err := NewWithSecret("other").Decrypt(frame)
	if err == nil {
		assert.NotEqual(t, `{"status":"success"}`, string(got))
	}
}

func TestUnpad(t *testing.T) {
	_, err := unpad([]byte{1, 2, 3, 0}, 16)
	assert.ErrorIs(t, err, ErrBadPadding)

	_, err = unpad([]byte{1, 2, 2, 3}, 16)
	assert.ErrorIs(t, err, ErrBadPadding)

	got, err := unpad([]byte{9, 2, 2}, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got)
}

func aesHex(blocks int) int {
	return blocks * 16 * 2
}
