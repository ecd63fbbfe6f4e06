// Package storage defines the key-value persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Storage is a flat, string-keyed durable store.
// It offers no transactions and no compare-and-swap.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
