// Package snapshot persists the per-item diff baseline and the status cache.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stock_monitor/internal/model"
	"stock_monitor/internal/storage"
)

// Persisted keys.
const (
	SnapshotKey = "products"
	StatusKey   = "status"
)

// Store reads and writes the snapshot and the last check result.
type Store struct {
	kv storage.Storage
}

// New creates a Store on top of kv.
func New(kv storage.Storage) *Store {
	return &Store{kv: kv}
}

// Load returns the last persisted snapshot. A missing snapshot is empty.
func (s *Store) Load(ctx context.Context) (model.Snapshot, error) {
	snap := model.Snapshot{}
	if err := s.get(ctx, SnapshotKey, &snap); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Save replaces the persisted snapshot.
func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	if err := s.put(ctx, SnapshotKey, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadStatus returns the last check result, or a zero result if no cycle
// has completed yet.
func (s *Store) LoadStatus(ctx context.Context) (*model.CheckResult, error) {
	res := &model.CheckResult{Changes: []model.Change{}}
	if err := s.get(ctx, StatusKey, res); err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	return res, nil
}

// SaveStatus replaces the cached check result.
func (s *Store) SaveStatus(ctx context.Context, res *model.CheckResult) error {
	if err := s.put(ctx, StatusKey, res); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, dst any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Put(ctx, key, raw)
}
