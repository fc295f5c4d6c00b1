// Package secrets seals secret configuration values at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"

	"setupwiz/internal/domain"
)

// Prefix marks a sealed string value.
const Prefix = "enc:"

// Sealer encrypts configuration values whose keys look secret. A Sealer with
// an empty passphrase is a pass-through.
type Sealer struct {
	passphrase string
	fields     []string
}

// NewSealer creates a Sealer. fields are lower-case key substrings that mark
// a configuration key as secret (e.g. "password").
func NewSealer(passphrase string, fields []string) *Sealer {
	lower := make([]string, 0, len(fields))
	for _, f := range fields {
		lower = append(lower, strings.ToLower(f))
	}
	return &Sealer{passphrase: passphrase, fields: lower}
}

// Enabled reports whether values are actually sealed.
func (s *Sealer) Enabled() bool { return s != nil && s.passphrase != "" }

// SealConfig returns a copy of cfg with secret string values sealed.
func (s *Sealer) SealConfig(cfg map[string]any) (map[string]any, error) {
	if !s.Enabled() || cfg == nil {
		return cfg, nil
	}
	return s.walk(domain.CloneConfig(cfg), func(v string) (string, error) {
		if strings.HasPrefix(v, Prefix) {
			return v, nil
		}
		enc, err := EncryptValue(v, s.passphrase)
		if err != nil {
			return "", err
		}
		return Prefix + enc, nil
	})
}

// OpenConfig reverses SealConfig.
func (s *Sealer) OpenConfig(cfg map[string]any) (map[string]any, error) {
	if !s.Enabled() || cfg == nil {
		return cfg, nil
	}
	return s.walk(domain.CloneConfig(cfg), func(v string) (string, error) {
		if !strings.HasPrefix(v, Prefix) {
			return v, nil
		}
		return DecryptValue(strings.TrimPrefix(v, Prefix), s.passphrase)
	})
}

func (s *Sealer) walk(m map[string]any, fn func(string) (string, error)) (map[string]any, error) {
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			if !s.secretKey(k) {
				continue
			}
			out, err := fn(tv)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s: %w", domain.ErrSealing, k, err)
			}
			m[k] = out
		case map[string]any:
			nested, err := s.walk(tv, fn)
			if err != nil {
				return nil, err
			}
			m[k] = nested
		}
	}
	return m, nil
}

func (s *Sealer) secretKey(key string) bool {
	key = strings.ToLower(key)
	for _, f := range s.fields {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
