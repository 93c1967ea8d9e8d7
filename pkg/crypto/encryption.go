// Package crypto provides PIN-derived encryption for sensitive data at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived key size for AES-256 (32 bytes).
	KeySize = 32
	// NonceSize is the size of the GCM nonce (12 bytes).
	NonceSize = 12
	// SaltSize is the size of the per-payload PBKDF2 salt (16 bytes).
	SaltSize = 16
	// Iterations is the fixed PBKDF2 iteration count.
	Iterations = 100_000
)

var (
	// ErrDecryptionFailed covers a wrong PIN and a corrupted payload alike.
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidSalt      = errors.New("invalid salt: must be 16 bytes")
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// EncryptedPayload is the persisted form of one encryption call.
// Byte slices marshal to JSON as numeric arrays, see Bytes.
type EncryptedPayload struct {
	Ciphertext Bytes `json:"ciphertext"`
	IV         Bytes `json:"iv"`
	Salt       Bytes `json:"salt"`
}

// DeriveKey stretches pin into an AES-256 key using PBKDF2-HMAC-SHA256.
func DeriveKey(pin string, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, ErrInvalidSalt
	}
	return pbkdf2.Key([]byte(pin), salt, Iterations, KeySize, sha256.New), nil
}

// Encrypt seals plaintext under a key derived from pin.
// Every call draws a fresh salt and IV.
func Encrypt(plaintext []byte, pin string) (*EncryptedPayload, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	key, err := DeriveKey(pin, salt)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return &EncryptedPayload{
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
		IV:         iv,
		Salt:       salt,
	}, nil
}

// EncryptString is a convenience wrapper around Encrypt.
func EncryptString(plaintext, pin string) (*EncryptedPayload, error) {
	return Encrypt([]byte(plaintext), pin)
}

// Decrypt opens a payload produced by Encrypt.
// Any failure, including malformed payloads, is reported as ErrDecryptionFailed.
func Decrypt(p *EncryptedPayload, pin string) ([]byte, error) {
	if p == nil || len(p.IV) != NonceSize || len(p.Salt) != SaltSize {
		return nil, ErrDecryptionFailed
	}

	key, err := DeriveKey(pin, p.Salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, p.IV, p.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// DecryptString is a convenience wrapper around Decrypt.
func DecryptString(p *EncryptedPayload, pin string) (string, error) {
	b, err := Decrypt(p, pin)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
