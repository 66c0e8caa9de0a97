package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const KeySize = chacha20poly1305.KeySize

// AEAD seals small blobs with XChaCha20-Poly1305 under a key derived from a
// master secret for one purpose, so the same master key never encrypts two
// kinds of data directly.
type AEAD struct {
	aead    cipherAEAD
	purpose []byte
}

type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func New(master []byte, purpose string) (*AEAD, error) {
	if len(master) < KeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes (got %d)", KeySize, len(master))
	}
	key, err := DeriveKey(master, purpose, KeySize)
	if err != nil {
		return nil, err
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a, purpose: []byte(purpose)}, nil
}

// DeriveKey expands master into n bytes bound to purpose with HKDF-SHA256.
func DeriveKey(master []byte, purpose string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return out, nil
}

func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return a.aead.Seal(nonce, nonce, plaintext, a.purpose), nil
}

func (a *AEAD) Open(sealed []byte) ([]byte, error) {
	ns := a.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return a.aead.Open(nil, sealed[:ns], sealed[ns:], a.purpose)
}

func (a *AEAD) EncryptToString(plaintext string) (string, error) {
	buf, err := a.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func (a *AEAD) DecryptString(ciphertextB64 string) (string, error) {
	buf, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", err
	}
	pt, err := a.Open(buf)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
