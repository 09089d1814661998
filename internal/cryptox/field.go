// Package cryptox implements field-level encryption for personally
// identifiable strings stored at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the required AES-256 key length in bytes.
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
	separator = ":"
)

// DecryptMode selects how Decrypt treats values that are not well-formed
// ciphertext.
type DecryptMode string

const (
	// DecryptStrict returns ErrMalformedCiphertext for anything that does not
	// decode and authenticate.
	DecryptStrict DecryptMode = "strict"
	// DecryptLenient returns the stored value unchanged when it cannot be
	// decoded, which tolerates rows written before encryption was enabled.
	DecryptLenient DecryptMode = "lenient"
)

var (
	ErrInvalidKey          = errors.New("encryption key must be 32 bytes")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrUnknownDecryptMode  = errors.New("unknown decrypt mode")
)

// ParseDecryptMode maps a configuration value to a DecryptMode.
func ParseDecryptMode(s string) (DecryptMode, error) {
	switch DecryptMode(strings.ToLower(strings.TrimSpace(s))) {
	case DecryptStrict:
		return DecryptStrict, nil
	case DecryptLenient:
		return DecryptLenient, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecryptMode, s)
}

// FieldCipher encrypts individual string fields with AES-256-GCM.
//
// Ciphertext is encoded as three hex components joined by ':' in the order
// nonce, ciphertext, tag. Each call uses a fresh random 12-byte nonce, so
// equal plaintexts never produce equal ciphertexts.
//
// A FieldCipher is safe for concurrent use.
type FieldCipher struct {
	aead cipher.AEAD
	mode DecryptMode
}

// NewFieldCipher builds a cipher from a raw 32-byte key.
func NewFieldCipher(key []byte, mode DecryptMode) (*FieldCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if mode == "" {
		mode = DecryptStrict
	}
	if mode != DecryptStrict && mode != DecryptLenient {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecryptMode, mode)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	return &FieldCipher{aead: aead, mode: mode}, nil
}

// NewFieldCipherFromBase64 decodes a standard base64 key, as supplied by the
// deployment environment, and builds a cipher from it.
func NewFieldCipherFromBase64(encoded string, mode DecryptMode) (*FieldCipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewFieldCipher(key, mode)
}

// Mode reports the configured decrypt mode.
func (c *FieldCipher) Mode() DecryptMode {
	return c.mode
}

// Encrypt seals plaintext and returns its "nonce:ciphertext:tag" encoding.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(body),
		hex.EncodeToString(tag),
	}, separator), nil
}

// Decrypt opens a value produced by Encrypt. Empty input yields an empty
// string. Malformed input is handled according to the cipher's mode.
func (c *FieldCipher) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	plain, err := c.open(value)
	if err != nil {
		if c.mode == DecryptLenient {
			return value, nil
		}
		return "", err
	}
	return plain, nil
}

func (c *FieldCipher) open(value string) (string, error) {
	parts := strings.Split(value, separator)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 components, got %d", ErrMalformedCiphertext, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", ErrMalformedCiphertext)
	}
	body, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad body", ErrMalformedCiphertext)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad tag", ErrMalformedCiphertext)
	}

	plain, err := c.aead.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return string(plain), nil
}
