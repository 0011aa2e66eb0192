package cryptoutils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/ruteri/share-recovery/interfaces"
)

const (
	saltedPrefix = "Salted__"
	saltLen      = 8
	keyLen       = 32
)

// PasswordCipher encrypts backup plaintext with a shared server-side password.
//
// The output is the OpenSSL passphrase format also produced by CryptoJS:
// base64("Salted__" || salt || AES-256-CBC(plaintext)), with key and IV
// derived by EVP_BytesToKey over MD5. Backups written by earlier clients
// therefore decrypt unchanged.
type PasswordCipher struct {
	password []byte
}

// NewPasswordCipher returns ErrConfiguration for an empty password. There is
// no default password.
func NewPasswordCipher(password string) (*PasswordCipher, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: backup encryption password is not set", interfaces.ErrConfiguration)
	}
	return &PasswordCipher{password: []byte(password)}, nil
}

// Encrypt returns the base64 ciphertext of plaintext under a fresh random salt.
func (c *PasswordCipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return c.encryptWithSalt(plaintext, salt)
}

func (c *PasswordCipher) encryptWithSalt(plaintext string, salt []byte) (string, error) {
	key, iv := evpBytesToKey(c.password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(saltedPrefix)+saltLen+len(padded))
	copy(out, saltedPrefix)
	copy(out[len(saltedPrefix):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(saltedPrefix)+saltLen:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed input, wrong password, non UTF-8 or
// empty plaintext is reported as ErrDecryption.
func (c *PasswordCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", interfaces.ErrDecryption, err)
	}

	headerLen := len(saltedPrefix) + saltLen
	if len(raw) < headerLen+aes.BlockSize || !bytes.HasPrefix(raw, []byte(saltedPrefix)) {
		return "", fmt.Errorf("%w: missing salt header", interfaces.ErrDecryption)
	}

	body := raw[headerLen:]
	if len(body)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", interfaces.ErrDecryption)
	}

	key, iv := evpBytesToKey(c.password, raw[len(saltedPrefix):headerLen])
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrDecryption, err)
	}
	if len(plain) == 0 {
		return "", fmt.Errorf("%w: empty plaintext", interfaces.ErrDecryption)
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", interfaces.ErrDecryption)
	}

	return string(plain), nil
}

// evpBytesToKey is OpenSSL's EVP_BytesToKey with MD5 and a single iteration.
func evpBytesToKey(password, salt []byte) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+aes.BlockSize {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+aes.BlockSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
