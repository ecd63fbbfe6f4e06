package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"stock_monitor/internal/storage"
)

func newTestStore(t *testing.T, fallback string) *Store {
	t.Helper()
	kv, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, fallback)
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestExpiry(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)

	tests := []struct {
		name string
		tok  string
		want time.Time
	}{
		{name: "jwt with exp", tok: signed(t, exp), want: exp},
		{name: "opaque token", tok: "not-a-jwt", want: time.Time{}},
		{name: "empty", tok: "", want: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expiry(tt.tok)
			if !got.Equal(tt.want) {
				t.Errorf("Expiry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "configured")

	got, err := s.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if diff := cmp.Diff("configured", got); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}

	tok := signed(t, time.Now().Add(time.Hour))
	if err := s.Set(ctx, tok); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = s.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if diff := cmp.Diff(tok, got); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}

	if err := s.Delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if diff := cmp.Diff("configured", got); diff != "" {
		t.Errorf("token mismatch after delete (-want +got):\n%s", diff)
	}
}

func TestSetRequiresLaterExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")
	now := time.Now()

	current := signed(t, now.Add(2*time.Hour))
	if err := s.Set(ctx, current); err != nil {
		t.Fatalf("set: %v", err)
	}

	tests := []struct {
		name    string
		tok     string
		wantErr error
	}{
		{name: "earlier", tok: signed(t, now.Add(time.Hour)), wantErr: ErrNotLater},
		{name: "same", tok: current, wantErr: ErrNotLater},
		{name: "opaque", tok: "opaque", wantErr: ErrNotLater},
		{name: "later", tok: signed(t, now.Add(3*time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Set(ctx, tt.tok)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Set() error = %v, want %v", err, tt.wantErr)
			}
			stored, err := s.Stored(ctx)
			if err != nil {
				t.Fatalf("stored: %v", err)
			}
			if tt.wantErr == nil && stored != tt.tok {
				t.Errorf("expected new token to be stored")
			}
			if tt.wantErr != nil && stored != current {
				t.Errorf("expected current token to be kept")
			}
		})
	}
}
