// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package crypto provides authenticated encryption for sensitive payloads.
//
// Encryption Algorithm:
//   - AES-256-GCM (authenticated encryption)
//   - 12-byte random nonce per encryption
//   - Key derived from the master secret using HKDF-SHA256
//
// The caller-supplied context string is bound to the ciphertext as
// associated data: decryption with a different context fails verification.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// keyDerivationSalt binds derived keys to this application's
	// encryption use case.
	keyDerivationSalt = "bastion-security-payloads"

	// keyDerivationInfo is the HKDF info parameter.
	keyDerivationInfo = "payload-encryption-v1"

	// aesKeySize is the AES key size in bytes (256 bits).
	aesKeySize = 32
)

var (
	// ErrEmptySecret is returned when an empty master secret is provided.
	ErrEmptySecret = errors.New("master secret cannot be empty")

	// ErrEmptyPlaintext is returned when attempting to encrypt empty data.
	ErrEmptyPlaintext = errors.New("plaintext cannot be empty")

	// ErrDecryptionFailed is returned when authentication fails: tampered
	// ciphertext, wrong key, or a context mismatch.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or context mismatch")

	// ErrInvalidEnvelope is returned when envelope fields do not decode.
	ErrInvalidEnvelope = errors.New("invalid envelope encoding")
)

// Envelope is the wire form of an encrypted payload. All byte fields are
// base64 encoded.
type Envelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
	Context   string `json:"context"`
}

// Encryptor provides AES-256-GCM encryption with a context string as
// associated data. Safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a 256-bit AES key from the master secret using
// HKDF-SHA256 and prepares the GCM cipher.
func NewEncryptor(masterSecret string) (*Encryptor, error) {
	if masterSecret == "" {
		return nil, ErrEmptySecret
	}

	key, err := deriveKey(masterSecret)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals data with context as associated data and returns the
// envelope. The GCM tag is carried separately so consumers can verify the
// envelope shape without decoding the ciphertext.
func (e *Encryptor) Encrypt(data []byte, context string) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPlaintext
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nil, nonce, data, []byte(context))
	tagStart := len(sealed) - e.aead.Overhead()

	return &Envelope{
		Encrypted: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Tag:       base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		Context:   context,
	}, nil
}

// Decrypt opens an envelope. The envelope's context is the associated data;
// a mismatch with the context used during encryption fails verification.
// Never returns partially-verified plaintext.
func (e *Encryptor) Decrypt(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrInvalidEnvelope
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return nil, ErrInvalidEnvelope
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(nonce) != e.aead.NonceSize() {
		return nil, ErrInvalidEnvelope
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != e.aead.Overhead() {
		return nil, ErrInvalidEnvelope
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := e.aead.Open(nil, nonce, sealed, []byte(env.Context))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// deriveKey expands the master secret into an AES-256 key via HKDF-SHA256.
func deriveKey(masterSecret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(masterSecret),
		[]byte(keyDerivationSalt), []byte(keyDerivationInfo))
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Hash returns the SHA-256 digest of data, base64 encoded. Used
// for integrity references in audit metadata, not for passwords.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
