// Package fanout delivers detected changes and price alerts to subscribers.
package fanout

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"

	"stock_monitor/internal/filter"
	"stock_monitor/internal/model"
	"stock_monitor/internal/notify"
)

// Registry is the subset of the subscriber registry the engine needs.
type Registry interface {
	PushSubscribers(ctx context.Context) iter.Seq2[*model.PushSubscriber, error]
	ChatSubscribers(ctx context.Context) iter.Seq2[*model.ChatSubscriber, error]
	Save(ctx context.Context, sub model.Subscriber) error
	Delete(ctx context.Context, sub model.Subscriber) error
}

// PushSender delivers a Web Push payload.
type PushSender interface {
	Send(ctx context.Context, sub model.PushSubscription, payload notify.Payload) error
}

// ChatSender delivers an HTML text message to a chat.
type ChatSender interface {
	SendChat(ctx context.Context, chatID int64, text string) error
}

// Stats counts what happened during one dispatch.
type Stats struct {
	Sent    int
	Failed  int
	Removed int
}

func (s *Stats) add(o Stats) {
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.Removed += o.Removed
}

// Engine fans notifications out to every subscriber family with a
// configured transport.
type Engine struct {
	registry Registry
	push     PushSender
	chat     ChatSender
	format   *notify.Formatter
	log      *slog.Logger
}

// New creates an Engine. A nil sender disables its subscriber family.
func New(registry Registry, push PushSender, chat ChatSender, format *notify.Formatter, log *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		push:     push,
		chat:     chat,
		format:   format,
		log:      log,
	}
}

// channel adapts one subscriber family to the shared delivery loop.
type channel struct {
	name        string
	subscribers iter.Seq2[model.Subscriber, error]
	change      func(ctx context.Context, sub model.Subscriber, c model.Change) error
	price       func(ctx context.Context, sub model.Subscriber, item model.Item, target float64) error
}

func widen[T model.Subscriber](seq iter.Seq2[T, error]) iter.Seq2[model.Subscriber, error] {
	return func(yield func(model.Subscriber, error) bool) {
		for sub, err := range seq {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(sub, nil) {
				return
			}
		}
	}
}

// Dispatch notifies subscribers about changes (pass A) and about every
// matching in-stock item at or below their price threshold (pass B).
// Subscribers are processed one at a time; a failure on one never stops
// delivery to the others.
func (e *Engine) Dispatch(ctx context.Context, changes []model.Change, items []model.Item) Stats {
	var total Stats
	for _, ch := range e.channels(ctx) {
		st := e.dispatchChannel(ctx, ch, changes, items)
		e.log.Info("dispatched notifications",
			"channel", ch.name,
			"sent", st.Sent,
			"failed", st.Failed,
			"removed", st.Removed,
		)
		total.add(st)
	}
	return total
}

func (e *Engine) channels(ctx context.Context) []channel {
	var out []channel
	if e.chat != nil {
		out = append(out, channel{
			name:        notify.ChannelChat,
			subscribers: widen(e.registry.ChatSubscribers(ctx)),
			change: func(ctx context.Context, sub model.Subscriber, c model.Change) error {
				return e.chat.SendChat(ctx, sub.(*model.ChatSubscriber).ChatID, e.format.ChatChange(c))
			},
			price: func(ctx context.Context, sub model.Subscriber, item model.Item, target float64) error {
				return e.chat.SendChat(ctx, sub.(*model.ChatSubscriber).ChatID, e.format.ChatPriceAlert(item, target))
			},
		})
	}
	if e.push != nil {
		out = append(out, channel{
			name:        notify.ChannelPush,
			subscribers: widen(e.registry.PushSubscribers(ctx)),
			change: func(ctx context.Context, sub model.Subscriber, c model.Change) error {
				return e.push.Send(ctx, sub.(*model.PushSubscriber).Subscription, e.format.PushChange(c))
			},
			price: func(ctx context.Context, sub model.Subscriber, item model.Item, target float64) error {
				return e.push.Send(ctx, sub.(*model.PushSubscriber).Subscription, e.format.PushPriceAlert(item, target))
			},
		})
	}
	return out
}

func (e *Engine) dispatchChannel(ctx context.Context, ch channel, changes []model.Change, items []model.Item) Stats {
	var st Stats
	for sub, err := range ch.subscribers {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			e.log.Error("load subscriber", "channel", ch.name, "error", err)
			continue
		}
		st.add(e.deliver(ctx, ch, sub, changes, items))
	}
	return st
}

// deliver runs both passes for a single subscriber.
func (e *Engine) deliver(ctx context.Context, ch channel, sub model.Subscriber, changes []model.Change, items []model.Item) Stats {
	var st Stats
	f := sub.Filter()
	key := sub.StorageKey()

	// Pass A: changes detected in this cycle.
	for _, c := range changes {
		if !filter.Match(c.Item, *f) {
			continue
		}
		if f.TargetPrice != nil && c.Item.Price > *f.TargetPrice {
			continue
		}
		if gone := e.record(ctx, ch, sub, &st, ch.change(ctx, sub, c), c.Item.ID); gone {
			return st
		}
	}

	if f.TargetPrice == nil {
		return st
	}
	target := *f.TargetPrice

	// Pass B: every matching in-stock item at or below the threshold.
	working := make([]int64, 0, len(f.NotifiedItemIDs))
	for _, item := range items {
		if !item.HasStock() || item.Price > target || !filter.Match(item, *f) {
			continue
		}
		if slices.Contains(working, item.ID) {
			continue
		}
		working = append(working, item.ID)
		if f.Notified(item.ID) {
			continue
		}
		if gone := e.record(ctx, ch, sub, &st, ch.price(ctx, sub, item, target), item.ID); gone {
			return st
		}
	}

	if sameSet(working, f.NotifiedItemIDs) {
		return st
	}
	f.NotifiedItemIDs = working
	if err := e.registry.Save(ctx, sub); err != nil {
		e.log.Error("save notified items", "channel", ch.name, "key", key, "error", err)
	}
	return st
}

// record accounts for one delivery attempt and removes the subscriber when
// the transport reports it permanently gone. It reports whether the
// subscriber was removed.
func (e *Engine) record(ctx context.Context, ch channel, sub model.Subscriber, st *Stats, err error, itemID int64) bool {
	key := sub.StorageKey()
	switch {
	case err == nil:
		st.Sent++
		return false
	case errors.Is(err, notify.ErrPermanent):
		st.Failed++
		e.log.Info("removing dead subscriber", "channel", ch.name, "key", key, "error", err)
		if derr := e.registry.Delete(ctx, sub); derr != nil {
			e.log.Error("delete subscriber", "channel", ch.name, "key", key, "error", derr)
		} else {
			st.Removed++
		}
		return true
	default:
		st.Failed++
		e.log.Warn("deliver notification", "channel", ch.name, "key", key, "item_id", itemID, "error", err)
		return false
	}
}

// sameSet compares membership only; order and duplicates are ignored.
func sameSet(a, b []int64) bool {
	return containsAll(a, b) && containsAll(b, a)
}

func containsAll(haystack, needles []int64) bool {
	for _, id := range needles {
		if !slices.Contains(haystack, id) {
			return false
		}
	}
	return true
}
