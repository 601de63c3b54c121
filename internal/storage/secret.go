// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/daypilot/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// SealedPrefix marks a sealed value (format: ENC:base64(nonce|ciphertext|tag)).
const SealedPrefix = "ENC:"

const (
	// KeySize is the AES-256 key size.
	KeySize = 32
	// SaltSize is the PBKDF2 salt size.
	SaltSize = 32
	// PBKDF2Iterations follows the OWASP 2023 guidance for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000
)

var (
	// ErrInvalidSealed indicates a sealed value could not be decoded.
	ErrInvalidSealed = errors.New("invalid sealed value")
	// ErrUnsealFailed indicates authentication failed (wrong key or tampering).
	ErrUnsealFailed = errors.New("unseal failed: authentication tag mismatch")
)

// =============================================================================
// SEALER
// =============================================================================

// Sealer encrypts secrets at rest with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// SealerFromKeyFile loads the master key at path, generating a random one
// with 0600 permissions on first use.
func SealerFromKeyFile(path string) (*Sealer, error) {
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		key = make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		if err := util.AtomicWriteFile(path, key, 0600, 0700); err != nil {
			return nil, fmt.Errorf("failed to store master key: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}
	defer zeroBytes(key)
	return NewSealer(key)
}

// SealerFromPassphrase derives the key from passphrase with PBKDF2-SHA-256.
// The salt lives at saltPath and is generated on first use.
func SealerFromPassphrase(passphrase, saltPath string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is empty")
	}
	salt, err := os.ReadFile(saltPath)
	switch {
	case err == nil:
		if len(salt) != SaltSize {
			return nil, fmt.Errorf("salt file %s is corrupt", saltPath)
		}
	case os.IsNotExist(err):
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := util.AtomicWriteFile(saltPath, salt, 0600, 0700); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	defer zeroBytes(key)
	return NewSealer(key)
}

// DeriveKey derives a sealing key from a passphrase and salt.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// Seal encrypts plaintext. Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the prefix are
// returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", ErrInvalidSealed
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", ErrInvalidSealed
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// zeroBytes wipes key material once a cipher has been built from it.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
