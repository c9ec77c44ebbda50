// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
)

// User is the signed-in account
type User struct {
	ID    string
	Email string
}

// Session reports the signed-in user, or nil when signed out
type Session interface {
	CurrentUser() *User
}

// Connectivity reports whether remote calls should be attempted
type Connectivity interface {
	Online() bool
}

// Signals delivers connectivity-regained and visibility-regained notifications.
// Either channel may be nil.
type Signals struct {
	Reconnected <-chan struct{}
	Visible     <-chan struct{}
}

// StaticConnectivity is a Connectivity toggled by the caller
type StaticConnectivity struct {
	online atomic.Bool
}

// NewStaticConnectivity creates a toggle with the given initial state
func NewStaticConnectivity(online bool) *StaticConnectivity {
	c := &StaticConnectivity{}
	c.online.Store(online)
	return c
}

func (c *StaticConnectivity) Online() bool { return c.online.Load() }

// SetOnline flips the state
func (c *StaticConnectivity) SetOnline(online bool) { c.online.Store(online) }

// StaticSession holds a user set by the caller
type StaticSession struct {
	mu   sync.RWMutex
	user *User
}

// NewStaticSession creates a session; user may be nil
func NewStaticSession(user *User) *StaticSession {
	return &StaticSession{user: user}
}

func (s *StaticSession) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// SignIn replaces the current user
func (s *StaticSession) SignIn(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
}

// SignOut clears the current user
func (s *StaticSession) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
}

// TokenSession derives the user from a bearer token's sub and email claims.
// The token is not verified here; the server does that on every request.
type TokenSession struct {
	Token func(ctx context.Context) (string, error)
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (s *TokenSession) CurrentUser() *User {
	if s.Token == nil {
		return nil
	}
	tok, err := s.Token(context.Background())
	if err != nil || tok == "" {
		return nil
	}
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	return &User{ID: claims.Subject, Email: claims.Email}
}
