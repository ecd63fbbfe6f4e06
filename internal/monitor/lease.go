package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stock_monitor/internal/storage"
)

// LeaseKey is the storage key of the cycle lease.
const LeaseKey = "lease"

type leaseRecord struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Lease is a best-effort cycle lock over a store without compare-and-swap.
// It writes its claim and re-reads it; two processes racing within the
// same write window can both believe they hold it. Within one process a
// second Acquire fails until the first holder releases.
type Lease struct {
	kv    storage.Storage
	owner string
	ttl   time.Duration
	now   func() time.Time
	held  atomic.Bool
}

// NewLease creates a lease with a random owner id. ttl bounds how long a
// crashed holder blocks other processes.
func NewLease(kv storage.Storage, ttl time.Duration) *Lease {
	return &Lease{
		kv:    kv,
		owner: uuid.NewString(),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Owner returns the id this lease writes into the record.
func (l *Lease) Owner() string { return l.owner }

// Acquire claims the lease unless this process already holds it or another
// owner holds an unexpired claim.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	if !l.held.CompareAndSwap(false, true) {
		return false, nil
	}
	ok, err := l.claim(ctx)
	if !ok {
		l.held.Store(false)
	}
	return ok, err
}

func (l *Lease) claim(ctx context.Context) (bool, error) {
	cur, err := l.read(ctx)
	if err != nil {
		return false, err
	}
	now := l.now()
	if cur != nil && cur.Owner != l.owner && cur.ExpiresAt > now.UnixMilli() {
		return false, nil
	}

	raw, err := json.Marshal(leaseRecord{Owner: l.owner, ExpiresAt: now.Add(l.ttl).UnixMilli()})
	if err != nil {
		return false, fmt.Errorf("encode lease: %w", err)
	}
	if err := l.kv.Put(ctx, LeaseKey, raw); err != nil {
		return false, fmt.Errorf("write lease: %w", err)
	}

	cur, err = l.read(ctx)
	if err != nil {
		return false, err
	}
	return cur != nil && cur.Owner == l.owner, nil
}

// Release drops the lease if this process still owns it.
func (l *Lease) Release(ctx context.Context) error {
	defer l.held.Store(false)
	cur, err := l.read(ctx)
	if err != nil {
		return err
	}
	if cur == nil || cur.Owner != l.owner {
		return nil
	}
	if err := l.kv.Delete(ctx, LeaseKey); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

func (l *Lease) read(ctx context.Context) (*leaseRecord, error) {
	raw, err := l.kv.Get(ctx, LeaseKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	var rec leaseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &rec, nil
}
