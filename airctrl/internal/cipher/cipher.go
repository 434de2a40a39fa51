// Package cipher implements the payload encryption used on the purifier
// control and status resources.
//
// A frame is the 8 character session key, the uppercase hex AES-128-CBC
// ciphertext and an uppercase hex SHA-256 digest over key and ciphertext.
// The AES key and IV are the two halves of the uppercase hex MD5 of the
// shared secret followed by the session key.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SharedSecret is the secret every device and client share
const SharedSecret = "JiangPan"

const (
	keyLen    = 8
	digestLen = sha256.Size * 2
)

// Errors returned while decoding frames
var (
	ErrShortFrame     = errors.New("cipher: frame too short")
	ErrDigestMismatch = errors.New("cipher: digest mismatch")
	ErrBadPadding     = errors.New("cipher: bad padding")
)

// Codec encrypts and decrypts frames with a given shared secret
type Codec struct {
	secret string
}

// New returns a codec using the default shared secret
func New() *Codec {
	return &Codec{secret: SharedSecret}
}

// NewWithSecret returns a codec using secret
func NewWithSecret(secret string) *Codec {
	return &Codec{secret: secret}
}

// DeriveKey turns the counter returned by the sync resource into the next
// session key: the counter plus one, as 8 uppercase hex digits.
func (c *Codec) DeriveKey(counter []byte) (string, error) {
	s := strings.TrimSpace(string(counter))
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return "", fmt.Errorf("cipher: invalid counter %q: %w", s, err)
	}
	return fmt.Sprintf("%08X", uint32(n)+1), nil
}

// Encrypt seals plaintext under key and returns the framed payload
func (c *Codec) Encrypt(key string, plaintext []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("cipher: session key must be %d characters, got %d", keyLen, len(key))
	}
	block, iv, err := c.blockFor(key)
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext, aes.BlockSize)
	sealed := make([]byte, len(padded))
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, padded)

	body := strings.ToUpper(hex.EncodeToString(sealed))
	var out bytes.Buffer
	out.Grow(keyLen + len(body) + digestLen)
	out.WriteString(key)
	out.WriteString(body)
	out.WriteString(digest(key, body))
	return out.Bytes(), nil
}

// Decrypt verifies and opens a framed payload
func (c *Codec) Decrypt(frame []byte) ([]byte, error) {
	s := strings.TrimSpace(string(frame))
	if len(s) < keyLen+digestLen+aes.BlockSize*2 {
		return nil, ErrShortFrame
	}
	key := s[:keyLen]
	body := s[keyLen : len(s)-digestLen]
	sum := s[len(s)-digestLen:]

	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(sum)), []byte(digest(key, body))) != 1 {
		return nil, ErrDigestMismatch
	}

	sealed, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("cipher: ciphertext: %w", err)
	}
	if len(sealed)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cipher: ciphertext length %d not a multiple of %d", len(sealed), aes.BlockSize)
	}

	block, iv, err := c.blockFor(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(sealed))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, sealed)
	return unpad(plain, aes.BlockSize)
}

func (c *Codec) blockFor(key string) (gocipher.Block, []byte, error) {
	sum := md5.Sum([]byte(c.secret + key))
	material := strings.ToUpper(hex.EncodeToString(sum[:]))
	block, err := aes.NewCipher([]byte(material[:16]))
	if err != nil {
		return nil, nil, fmt.Errorf("cipher: %w", err)
	}
	return block, []byte(material[16:]), nil
}

func digest(key, body string) string {
	sum := sha256.Sum256([]byte(key + body))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
