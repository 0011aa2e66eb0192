package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const gcmNonceSize = 12

// DeriveKey derives a 32-byte purpose-bound key from a master secret with
// HKDF-SHA256. Different info strings yield independent keys.
func DeriveKey(master []byte, salt []byte, info string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("empty master secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// DeriveDeviceKey stretches a local passphrase into a 32-byte storage
// encryption key.
func DeriveDeviceKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// SealWithKey encrypts data with AES-256-GCM.
// Format: [nonce (12 bytes)][ciphertext+tag]
func SealWithKey(key, data, additionalData []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, data, additionalData), nil
}

// OpenWithKey decrypts the output of SealWithKey.
func OpenWithKey(key, sealed, additionalData []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcmNonceSize+aesGCM.Overhead() {
		return nil, errors.New("sealed data too short")
	}

	plaintext, err := aesGCM.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// WipeBytes zeroes sensitive data in place.
func WipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
