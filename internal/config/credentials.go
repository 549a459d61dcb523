// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bastionsec/bastion/internal/crypto"
)

// EncryptedPrefix marks config values stored encrypted at rest. Values
// carrying the prefix are decrypted during Load with a key derived from
// the JWT secret.
const EncryptedPrefix = "enc:"

// ErrNoEncryptionKey is returned when an encrypted value is present but
// no JWT secret is configured to derive the decryption key from.
var ErrNoEncryptionKey = errors.New("encrypted config value present but security.jwt_secret is empty")

// ResolveCredentials decrypts any enc:-prefixed credential values in
// place. Plaintext values pass through untouched.
func (c *Config) ResolveCredentials() error {
	r := resolver{secret: c.Security.JWTSecret}

	if err := r.resolve("webhook.webhook_url", &c.Webhook.WebhookURL); err != nil {
		return err
	}
	for name, val := range c.Webhook.Headers {
		v := val
		if err := r.resolve("webhook.headers."+name, &v); err != nil {
			return err
		}
		c.Webhook.Headers[name] = v
	}
	return nil
}

// resolver lazily constructs the encryptor so configs without encrypted
// values never require a JWT secret.
type resolver struct {
	secret string
	enc    *crypto.Encryptor
}

func (r *resolver) resolve(path string, field *string) error {
	if !strings.HasPrefix(*field, EncryptedPrefix) {
		return nil
	}
	if r.enc == nil {
		if r.secret == "" {
			return fmt.Errorf("%s: %w", path, ErrNoEncryptionKey)
		}
		enc, err := crypto.NewEncryptor(r.secret)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		r.enc = enc
	}
	plain, err := r.enc.OpenString(strings.TrimPrefix(*field, EncryptedPrefix))
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", path, err)
	}
	*field = plain
	return nil
}
