// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iceman4177/CalFit-sub000/internal/auth"
)

const tokenIssuer = "fitsync"

// JWTAuth mints and checks HS256 device tokens
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims represents JWT claims for a signed-in user on one device
type JWTClaims struct {
	DeviceID string `json:"did"`             // Device ID (the device's client id)
	Email    string `json:"email,omitempty"` // Optional, surfaced by the device session
	jwt.RegisteredClaims
}

// GenerateToken generates a JWT token for the given user and device
func (j *JWTAuth) GenerateToken(userID, email, deviceID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID, // User ID goes in standard 'sub' claim
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken checks the signature, expiry and issuer and requires both sub and did.
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	switch {
	case claims.Subject == "":
		return nil, errors.New("token has no sub (user id)")
	case claims.DeviceID == "":
		return nil, errors.New("token has no did (device id)")
	}
	return claims, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <jwt>" header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// Identity returns the caller set by Middleware, falling back to parsing the request's token
func (j *JWTAuth) Identity(r *http.Request) (auth.Identity, error) {
	if id, ok := auth.FromContext(r.Context()); ok && id.UserID != "" {
		return id, nil
	}
	token, err := bearerToken(r)
	if err != nil {
		return auth.Identity{}, err
	}
	claims, err := j.ValidateToken(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	return auth.Identity{UserID: claims.Subject, DeviceID: claims.DeviceID, Email: claims.Email}, nil
}

// GetUserID implements ClientAuthenticator
func (j *JWTAuth) GetUserID(r *http.Request) (string, error) {
	id, err := j.Identity(r)
	return id.UserID, err
}

// GetDeviceID returns the did claim of the caller
func (j *JWTAuth) GetDeviceID(r *http.Request) (string, error) {
	id, err := j.Identity(r)
	return id.DeviceID, err
}

// Middleware rejects requests without a valid token and stores the caller's identity in the context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
			return
		}
		claims, err := j.ValidateToken(token)
		if err != nil {
			slog.Warn("Rejected bearer token", "error", err, "path", r.URL.Path)
			writeJSONError(w, http.StatusUnauthorized, CodeAuthFailed, "Invalid token")
			return
		}
		ctx := auth.WithIdentity(r.Context(), auth.Identity{
			UserID:   claims.Subject,
			DeviceID: claims.DeviceID,
			Email:    claims.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
