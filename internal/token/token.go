// Package token stores the bearer token forwarded to the catalog API.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stock_monitor/internal/storage"
)

// Key is the storage key of the user-provided token.
const Key = "api_token"

// ErrNotLater is returned by Set when the new token does not expire after
// the stored one.
var ErrNotLater = errors.New("token does not expire later than the current one")

// Store keeps a user-provided token and falls back to a configured one.
type Store struct {
	kv       storage.Storage
	fallback string
}

// New creates a Store. fallback is used while no token is stored.
func New(kv storage.Storage, fallback string) *Store {
	return &Store{kv: kv, fallback: fallback}
}

// Token returns the stored token, the fallback token, or "".
func (s *Store) Token(ctx context.Context) (string, error) {
	stored, err := s.Stored(ctx)
	if err != nil {
		return "", err
	}
	if stored != "" {
		return stored, nil
	}
	return s.fallback, nil
}

// Stored returns the user-provided token, or "" when none is stored.
func (s *Store) Stored(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, Key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return string(raw), nil
}

// Set stores tok. When a token is already stored, tok must expire strictly
// later; tokens without a readable expiry count as expiring at zero time.
func (s *Store) Set(ctx context.Context, tok string) error {
	current, err := s.Stored(ctx)
	if err != nil {
		return err
	}
	if current != "" {
		if !Expiry(tok).After(Expiry(current)) {
			return ErrNotLater
		}
	}
	if err := s.kv.Put(ctx, Key, []byte(tok)); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Delete removes the stored token.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Expiry decodes the exp claim of a JWT without verifying its signature.
// It returns the zero time when the token is not a JWT or has no exp.
func Expiry(tok string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
