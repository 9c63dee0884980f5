/**
 * @description
 * Package secretbox encrypts payout destination credentials at rest. Each
 * value gets its own random salt; the AES-256 key is derived from the service
 * secret with scrypt, and the ciphertext is sealed with AES-GCM.
 *
 * Encoded form: hex(salt):hex(nonce):hex(sealed), where sealed carries the
 * GCM tag appended to the ciphertext.
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand: Standard Go libraries.
 * - golang.org/x/crypto/scrypt: key derivation.
 */
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLength = 16
	keyLength  = 32
)

var (
	ErrEmptySecret      = errors.New("secretbox: secret must not be empty")
	ErrMalformedPayload = errors.New("secretbox: malformed ciphertext")
)

// Box encrypts and decrypts short strings with a key derived from secret.
type Box struct {
	secret []byte
	// scrypt cost parameter; tests lower it.
	n int
}

// New returns a Box for secret.
func New(secret string) (*Box, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	return &Box{secret: []byte(secret), n: 1 << 15}, nil
}

// NewWithCost is New with a custom scrypt N, for tests.
func NewWithCost(secret string, n int) (*Box, error) {
	b, err := New(secret)
	if err != nil {
		return nil, err
	}
	b.n = n
	return b, nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(b.secret, salt, b.n, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext.
func (b *Box) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("secretbox: read salt: %w", err)
	}
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secretbox: read nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrMalformedPayload
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != saltLength {
		return "", ErrMalformedPayload
	}
	nonce, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedPayload
	}
	sealed, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedPayload
	}
	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrMalformedPayload
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: open: %w", err)
	}
	return string(plaintext), nil
}
