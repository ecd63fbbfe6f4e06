// Package registry stores push and chat subscriber records.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"stock_monitor/internal/model"
	"stock_monitor/internal/storage"
)

// ErrNotFound is returned when a subscriber record does not exist.
var ErrNotFound = errors.New("subscriber not found")

// RecordError reports a stored subscriber record that could not be loaded.
type RecordError struct {
	Key string
	Err error
}

func (e *RecordError) Error() string { return fmt.Sprintf("load %s: %v", e.Key, e.Err) }

func (e *RecordError) Unwrap() error { return e.Err }

// Registry reads and writes subscriber records in a key-value store.
// Each record is read, mutated and written independently; there is no
// locking across records or cycles.
type Registry struct {
	kv  storage.Storage
	log *slog.Logger
}

// New creates a Registry on top of kv.
func New(kv storage.Storage, log *slog.Logger) *Registry {
	return &Registry{kv: kv, log: log}
}

// PushSubscribers yields every push subscriber. Each range over the
// sequence lists the key prefix again and loads records one at a time.
// Records deleted between listing and loading are skipped.
func (r *Registry) PushSubscribers(ctx context.Context) iter.Seq2[*model.PushSubscriber, error] {
	return scan(ctx, r.kv, model.PushKeyPrefix, func(sub *model.PushSubscriber, key string) {
		sub.ID = strings.TrimPrefix(key, model.PushKeyPrefix)
	})
}

// ChatSubscribers yields every chat subscriber, see PushSubscribers.
func (r *Registry) ChatSubscribers(ctx context.Context) iter.Seq2[*model.ChatSubscriber, error] {
	return scan[model.ChatSubscriber](ctx, r.kv, model.ChatKeyPrefix, nil)
}

func scan[T any](ctx context.Context, kv storage.Storage, prefix string, keyed func(*T, string)) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		keys, err := kv.List(ctx, prefix)
		if err != nil {
			yield(nil, fmt.Errorf("list %s: %w", prefix, err))
			return
		}
		for _, key := range keys {
			rec := new(T)
			err := load(ctx, kv, key, rec)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				err = &RecordError{Key: key, Err: err}
				rec = nil
			} else if keyed != nil {
				keyed(rec, key)
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Save writes the subscriber record under its storage key.
func (r *Registry) Save(ctx context.Context, sub model.Subscriber) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscriber: %w", err)
	}
	if err := r.kv.Put(ctx, sub.StorageKey(), raw); err != nil {
		return fmt.Errorf("save subscriber: %w", err)
	}
	return nil
}

// Delete removes the subscriber record.
func (r *Registry) Delete(ctx context.Context, sub model.Subscriber) error {
	if err := r.kv.Delete(ctx, sub.StorageKey()); err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

// GetChat returns the record of a chat.
func (r *Registry) GetChat(ctx context.Context, chatID int64) (*model.ChatSubscriber, error) {
	var sub model.ChatSubscriber
	if err := load(ctx, r.kv, model.ChatKey(chatID), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetOrNewChat returns the record of a chat, or a fresh pass-through
// record when the chat has none yet. The fresh record is not saved.
func (r *Registry) GetOrNewChat(ctx context.Context, chatID int64) (*model.ChatSubscriber, error) {
	sub, err := r.GetChat(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return NewChatSubscriber(chatID), nil
	}
	return sub, err
}

// DeleteChat removes the record of a chat.
func (r *Registry) DeleteChat(ctx context.Context, chatID int64) error {
	return r.Delete(ctx, &model.ChatSubscriber{ChatID: chatID})
}

// NewChatSubscriber returns a chat record matching every item.
func NewChatSubscriber(chatID int64) *model.ChatSubscriber {
	return &model.ChatSubscriber{
		ChatID: chatID,
		KeywordFilter: model.KeywordFilter{
			Keywords:        []string{},
			ExcludeKeywords: []string{},
		},
	}
}

// FindPush returns the push subscriber registered for endpoint. Records
// that cannot be loaded are logged and skipped.
func (r *Registry) FindPush(ctx context.Context, endpoint string) (*model.PushSubscriber, error) {
	for sub, err := range r.PushSubscribers(ctx) {
		var recErr *RecordError
		if errors.As(err, &recErr) {
			r.log.Warn("skip unreadable push subscriber", "key", recErr.Key, "error", recErr.Err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.Subscription.Endpoint == endpoint {
			return sub, nil
		}
	}
	return nil, ErrNotFound
}

// RegisterPush stores sub, replacing any record with the same endpoint.
// New records get a random ID.
func (r *Registry) RegisterPush(ctx context.Context, sub *model.PushSubscriber) error {
	existing, err := r.FindPush(ctx, sub.Subscription.Endpoint)
	switch {
	case err == nil:
		sub.ID = existing.ID
	case errors.Is(err, ErrNotFound):
		sub.ID = uuid.NewString()
	default:
		return err
	}
	return r.Save(ctx, sub)
}

// DeletePush removes the push subscriber registered for endpoint and
// reports whether one existed.
func (r *Registry) DeletePush(ctx context.Context, endpoint string) (bool, error) {
	sub, err := r.FindPush(ctx, endpoint)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, r.Delete(ctx, sub)
}

func load(ctx context.Context, kv storage.Storage, key string, dst any) error {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
