// Package encryption encrypts OAuth tokens before they are stored.
//
// Ciphertext layout, base64 encoded: salt(16) | nonce(12) | AES-256-GCM sealed data.
// The key is derived per value from the configured password and the random salt.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 65536
)

// ErrDecrypt is returned for ciphertext that was not produced with this password.
// Callers treat it as an unusable token, never as a retryable condition.
var ErrDecrypt = errors.New("unable to decrypt value")

// Encryptor performs password based symmetric encryption of strings
type Encryptor struct {
	password []byte
	random   io.Reader
}

// New creates an Encryptor for the given password
func New(password string) (*Encryptor, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption password is required")
	}
	return &Encryptor{password: []byte(password), random: rand.Reader}, nil
}

// Encrypt returns the printable ciphertext for plaintext. The empty string
// passes through unchanged.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(e.random, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.cipher(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(e.random, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. The empty string passes through unchanged.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < saltSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	salt := raw[:saltSize]
	gcm, err := e.cipher(salt)
	if err != nil {
		return "", err
	}

	body := raw[saltSize:]
	if len(body) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := body[:gcm.NonceSize()], body[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

func (e *Encryptor) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.password, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
