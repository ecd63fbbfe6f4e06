package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

// GCS implements Storage with one Cloud Storage object per key.
type GCS struct {
	client *gcstorage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCS creates a Cloud Storage backed store. Object names are prefix + key.
func NewGCS(client *gcstorage.Client, bucket, prefix string, logger *slog.Logger) *GCS {
	return &GCS{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Cloud Storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) object(key string) *gcstorage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + key)
}

func (g *GCS) retryOptions(ctx context.Context, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30 * time.Second),
		retry.MaxJitter(5 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("retrying storage operation", "op", op, "attempt", n, "key", key, "error", err)
		}),
	}
}

// Get returns the value stored under key.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	missing := false
	err := retry.Do(
		func() error {
			r, err := g.object(key).NewReader(ctx)
			if err != nil {
				if errors.Is(err, gcstorage.ErrObjectNotExist) {
					missing = true
					return nil
				}
				return fmt.Errorf("open reader: %w", err)
			}
			defer func() { _ = r.Close() }()

			data, err = io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read object: %w", err)
			}
			return nil
		},
		g.retryOptions(ctx, "get", key)...,
	)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	if missing {
		return nil, ErrNotFound
	}
	return data, nil
}

// Put stores value under key, replacing any previous value.
func (g *GCS) Put(ctx context.Context, key string, value []byte) error {
	err := retry.Do(
		func() error {
			w := g.object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, err := w.Write(value); err != nil {
				_ = w.Close()
				return fmt.Errorf("write object: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("close writer: %w", err)
			}
			return nil
		},
		g.retryOptions(ctx, "put", key)...,
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := retry.Do(
		func() error {
			err := g.object(key).Delete(ctx)
			if errors.Is(err, gcstorage.ErrObjectNotExist) {
				return nil
			}
			return err
		},
		g.retryOptions(ctx, "delete", key)...,
	)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// List returns all keys starting with prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcstorage.Query{Prefix: g.prefix + prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, g.prefix))
	}
	return keys, nil
}
