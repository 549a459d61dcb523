// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bastionsec/bastion/internal/logging"
)

type authContextKey string

// SubjectKey carries the authenticated operator's subject in the request
// context.
const SubjectKey authContextKey = "subject"

// ErrNoSecret is returned when Authenticator is constructed without a key.
var ErrNoSecret = errors.New("jwt secret cannot be empty")

// Authenticator verifies operator bearer tokens (HS256).
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates a token verifier over the shared secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// IssueToken mints a token for subject, expiring after ttl. Used by tests
// and by deployments that provision operator tokens out of band.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "bastion",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token, returning the subject.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// subject in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := NewResponseWriter(w, r)

		header := r.Header.Get("Authorization")
		if header == "" {
			rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, "missing authorization header")
			return
		}
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, "malformed authorization header")
			return
		}

		subject, err := a.Verify(tokenString)
		if err != nil {
			logging.Debug().Err(err).Msg("token verification failed")
			rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, or "".
func SubjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(SubjectKey).(string); ok {
		return s
	}
	return ""
}
