// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/pulsefeed/internal/config"
)

// BootstrapAdmin verifies the configured admin credentials. The plaintext
// password from configuration is hashed once at startup and discarded, so
// only the bcrypt hash stays in memory.
type BootstrapAdmin struct {
	username     string
	passwordHash []byte
}

// NewBootstrapAdmin creates the bootstrap admin from configuration.
// Returns nil (not an error) when no admin credentials are configured,
// which disables password login entirely.
func NewBootstrapAdmin(cfg *config.SecurityConfig) (*BootstrapAdmin, error) {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}

	return &BootstrapAdmin{
		username:     cfg.AdminUsername,
		passwordHash: hash,
	}, nil
}

// Verify checks a username/password pair against the bootstrap admin.
// The username comparison is constant time so it does not leak which
// part of the credential pair was wrong.
func (b *BootstrapAdmin) Verify(username, password string) error {
	if b == nil {
		return ErrInvalidCredentials
	}

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(b.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(b.passwordHash, []byte(password))

	if !userMatch || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Subject returns the admin's auth subject.
func (b *BootstrapAdmin) Subject() *Subject {
	return &Subject{
		ID:       b.username,
		Username: b.username,
		Roles:    []string{"admin"},
	}
}
