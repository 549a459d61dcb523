// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrEmptyCiphertext is returned when attempting to open an empty string.
	ErrEmptyCiphertext = errors.New("ciphertext cannot be empty")

	// ErrInvalidCiphertext is returned when a compact ciphertext does not
	// decode or is too short to contain a nonce and tag.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// SealString encrypts a credential into the compact form
// base64(nonce || ciphertext || tag). Unlike Encrypt, no context is bound;
// the compact form is intended for config file values where a single
// opaque string is required.
func (e *Encryptor) SealString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString decrypts a compact ciphertext produced by SealString.
func (e *Encryptor) OpenString(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrEmptyCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrInvalidCiphertext)
	}
	if len(data) < e.aead.NonceSize()+1+e.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce := data[:e.aead.NonceSize()]
	plaintext, err := e.aead.Open(nil, nonce, data[e.aead.NonceSize():], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// MaskCredential returns a display-safe form of a credential: the last four
// characters preceded by asterisks. Short credentials are fully masked.
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 8 {
		return strings.Repeat("*", len(credential))
	}
	return "****..." + credential[len(credential)-4:]
}
