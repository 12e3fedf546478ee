package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	keySize   = 32
	ivSize    = 16
	tagSize   = 16
	separator = ":"
)

// ErrMalformedToken is returned for stored tokens that are not "iv:tag:ciphertext".
var ErrMalformedToken = errors.New("malformed encrypted token")

// TokenCipher encrypts access tokens with AES-256-GCM. The stored form is
// hex(iv) ":" hex(authTag) ":" hex(ciphertext) with a 16 byte iv.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher from a hex encoded 32 byte key.
func NewTokenCipher(hexKey string) (*TokenCipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("credentials key is not valid hex: %w", err)
	}

	if len(key) != keySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)

	_, err := rand.Read(iv)
	if err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, separator), nil
}

func (c *TokenCipher) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, separator)
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrMalformedToken
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedToken
	}

	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedToken
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}

	return string(plaintext), nil
}
