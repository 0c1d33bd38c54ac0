// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package auth provides JWT authentication for Pulsefeed: token issuance
// for the bootstrap admin, bearer token validation, and request middleware
// that places the authenticated subject in the context.
package auth

import (
	"context"
	"errors"
)

type contextKey string

// SubjectContextKey is the context key for the authenticated subject.
const SubjectContextKey contextKey = "auth-subject"

// Standard authentication errors.
var (
	// ErrNoCredentials indicates no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials indicates credentials were invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Subject represents an authenticated user.
type Subject struct {
	// ID is the unique identifier for this subject (the JWT 'sub' claim).
	ID string `json:"id"`

	// Username is the human-readable username.
	Username string `json:"username"`

	// Roles contains the subject's assigned roles. Used by Casbin for
	// authorization.
	Roles []string `json:"roles,omitempty"`

	// IssuedAt is when the token was issued (unix seconds).
	IssuedAt int64 `json:"issued_at,omitempty"`

	// ExpiresAt is when the token expires (unix seconds).
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// HasRole checks if the subject has a specific role.
func (s *Subject) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if the subject has any of the specified roles.
func (s *Subject) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// GetSubject retrieves the authenticated subject from the context, or nil.
func GetSubject(ctx context.Context) *Subject {
	subject, ok := ctx.Value(SubjectContextKey).(*Subject)
	if !ok {
		return nil
	}
	return subject
}

// WithSubject returns a context carrying the authenticated subject.
// Exposed for handler tests.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, SubjectContextKey, s)
}
