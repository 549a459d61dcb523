// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package crypto

import (
	"errors"
	"testing"
)

func TestSealOpenString(t *testing.T) {
	e, err := NewEncryptor("test-master-secret")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	sealed, err := e.SealString("api-key-12345")
	if err != nil {
		t.Fatalf("SealString: %v", err)
	}

	got, err := e.OpenString(sealed)
	if err != nil {
		t.Fatalf("OpenString: %v", err)
	}
	if got != "api-key-12345" {
		t.Errorf("round trip = %q", got)
	}
}

func TestOpenStringRejectsBadInput(t *testing.T) {
	e, _ := NewEncryptor("test-master-secret")

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmptyCiphertext},
		{"not base64", "!!!not-base64!!!", ErrInvalidCiphertext},
		{"too short", "c2hvcnQ=", ErrInvalidCiphertext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.OpenString(tt.input); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenStringWrongKey(t *testing.T) {
	a, _ := NewEncryptor("secret-a")
	b, _ := NewEncryptor("secret-b")

	sealed, _ := a.SealString("credential")
	if _, err := b.OpenString(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("err = %v, want ErrDecryptionFailed", err)
	}
}

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"sk-verylongsecret1234", "****...1234"},
	}
	for _, tt := range tests {
		if got := MaskCredential(tt.in); got != tt.want {
			t.Errorf("MaskCredential(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
