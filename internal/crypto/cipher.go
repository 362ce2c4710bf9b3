// Package crypto implements the engine's authenticated encryption of blob
// content (AES-256-GCM) and the envelope scheme that protects the master
// key at rest (see envelope.go).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// KeySize is the master/content key size in bytes (256 bits).
	KeySize = 32

	// NonceSize is the GCM nonce size in bytes (96 bits).
	NonceSize = 12

	// Algorithm identifies the content cipher on disk and in the key file.
	Algorithm = "AES-256-GCM"
)

// newAEAD builds an AES-256-GCM instance from a key of KeySize bytes.
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptBlob seals plaintext under key with a fresh random nonce and
// returns nonce‖ciphertext_and_tag, the exact on-disk layout §4.B mandates.
// There is no associated data.
func EncryptBlob(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// DecryptBlob opens a nonce‖ciphertext_and_tag buffer produced by EncryptBlob.
func DecryptBlob(sealed, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("crypto: sealed blob shorter than nonce")
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed: %w", err)
	}
	return plaintext, nil
}

// EncryptStream reads all of r, encrypts it under key, and writes
// nonce‖ciphertext_and_tag to w. The whole-object single-nonce layout
// requires the plaintext to be sealed in one AEAD call, so this reads r
// fully into memory before writing.
func EncryptStream(w io.Writer, r io.Reader, key []byte) error {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("crypto: read plaintext: %w", err)
	}
	sealed, err := EncryptBlob(plaintext, key)
	if err != nil {
		return err
	}
	_, err = w.Write(sealed)
	return err
}

// DecryptStream reads all of r (a nonce‖ciphertext_and_tag buffer) and
// writes the recovered plaintext to w.
func DecryptStream(w io.Writer, r io.Reader, key []byte) error {
	sealed, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("crypto: read ciphertext: %w", err)
	}
	plaintext, err := DecryptBlob(sealed, key)
	if err != nil {
		return err
	}
	_, err = w.Write(plaintext)
	return err
}

// GenerateMasterKey returns a fresh random 256-bit master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generate master key: %w", err)
	}
	return key, nil
}
