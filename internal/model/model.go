// Package model defines the domain types used across the application.
package model

import (
	"slices"
	"strconv"
)

// Item is a single catalog product as returned by the upstream API.
type Item struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	CategoryName   string  `json:"category_name"`
	Price          float64 `json:"price"`
	Discount       float64 `json:"discount"`
	Stock          int     `json:"stock"`
	AvailableStock *int    `json:"availableStock,omitempty"`
	UpdatedAt      int64   `json:"updated_at"`
	CreatedAt      int64   `json:"created_at,omitempty"`
	SellerName     string  `json:"seller_name"`
	ImageURL       string  `json:"image_url,omitempty"`
	SoldCount      int     `json:"sold_count,omitempty"`
	ViewCount      int     `json:"view_count,omitempty"`
}

// UnlimitedStock marks an item that never runs out.
const UnlimitedStock = -1

// HasStock reports whether the item can currently be bought.
func (i Item) HasStock() bool {
	return i.Stock == UnlimitedStock || i.Stock > 0
}

// StockText renders the stock level shown in notifications.
func (i Item) StockText() string {
	if i.Stock == UnlimitedStock {
		return "unlimited"
	}
	if i.AvailableStock != nil {
		return strconv.Itoa(*i.AvailableStock)
	}
	return strconv.Itoa(i.Stock)
}

// SearchText is the text keyword filters are matched against.
func (i Item) SearchText() string {
	return i.Name + " " + i.Description + " " + i.CategoryName
}

// ItemState is the last observed state of a single item.
type ItemState struct {
	HasStock  bool  `json:"hasStock"`
	UpdatedAt int64 `json:"updated_at"`
}

// Snapshot maps item IDs to their last observed state.
type Snapshot map[int64]ItemState

// ChangeKind classifies an item transition between two polls.
type ChangeKind string

// Supported change kinds.
const (
	ChangeNew       ChangeKind = "new"
	ChangeRestocked ChangeKind = "restocked"
	ChangeUpdated   ChangeKind = "updated"
)

// Change is a single detected item transition.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	Item      Item       `json:"item"`
	StockText string     `json:"stockText"`
}

// CheckResult is the cached outcome of the last poll cycle.
type CheckResult struct {
	Timestamp      int64    `json:"timestamp"`
	TotalItemCount int      `json:"totalItemCount"`
	Changes        []Change `json:"changes"`
	LostPages      []int    `json:"lostPages,omitempty"`
}

// KeywordFilter holds the matching criteria shared by all subscribers.
type KeywordFilter struct {
	Keywords        []string `json:"keywords"`
	ExcludeKeywords []string `json:"excludeKeywords"`
	TargetPrice     *float64 `json:"targetPrice,omitempty"`
	// NotifiedItemIDs is only meaningful while TargetPrice is set.
	NotifiedItemIDs []int64 `json:"notifiedItemIds,omitempty"`
}

// SetTargetPrice replaces the price threshold and forgets every price alert
// sent so far. A nil price clears the threshold.
func (f *KeywordFilter) SetTargetPrice(price *float64) {
	if price == nil {
		f.TargetPrice = nil
		f.NotifiedItemIDs = nil
		return
	}
	p := *price
	f.TargetPrice = &p
	f.NotifiedItemIDs = []int64{}
}

// Notified reports whether a price alert was already sent for the item.
func (f *KeywordFilter) Notified(id int64) bool {
	return slices.Contains(f.NotifiedItemIDs, id)
}

// Subscriber is implemented by every notification target stored in the registry.
type Subscriber interface {
	StorageKey() string
	Filter() *KeywordFilter
}

// PushKeys are the client keys of a Web Push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is the browser-provided Web Push address.
type PushSubscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

// PushSubscriber is a browser registered for Web Push notifications.
type PushSubscriber struct {
	ID           string           `json:"-"`
	Subscription PushSubscription `json:"subscription"`
	KeywordFilter
}

// Push subscriber records live under this key prefix.
const PushKeyPrefix = "sub:"

// StorageKey returns the persistence key of the record.
func (s *PushSubscriber) StorageKey() string { return PushKeyPrefix + s.ID }

// Filter returns the subscriber's matching criteria.
func (s *PushSubscriber) Filter() *KeywordFilter { return &s.KeywordFilter }

// ChatSubscriber is a Telegram chat receiving notifications from the bot.
type ChatSubscriber struct {
	ChatID int64 `json:"chatId"`
	KeywordFilter
}

// Chat subscriber records live under this key prefix.
const ChatKeyPrefix = "tg:"

// ChatKey returns the persistence key for a chat.
func ChatKey(chatID int64) string {
	return ChatKeyPrefix + strconv.FormatInt(chatID, 10)
}

// StorageKey returns the persistence key of the record.
func (s *ChatSubscriber) StorageKey() string { return ChatKey(s.ChatID) }

// Filter returns the subscriber's matching criteria.
func (s *ChatSubscriber) Filter() *KeywordFilter { return &s.KeywordFilter }
