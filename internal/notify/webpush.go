package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"stock_monitor/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// VAPID holds the application server keys used to sign push requests.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// WebPush sends encrypted Web Push messages.
type WebPush struct {
	client HTTPClient
	vapid  VAPID
	ttl    int
}

// NewWebPush creates a WebPush sender with the given HTTP client.
func NewWebPush(client HTTPClient, vapid VAPID) *WebPush {
	return &WebPush{
		client: client,
		vapid:  vapid,
		ttl:    60,
	}
}

// Payload is the JSON document the service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Send encrypts payload for sub and posts it to the push service.
// Failures are returned as *DeliveryError.
func (w *WebPush) Send(ctx context.Context, sub model.PushSubscription, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.vapid.Subject,
		VAPIDPublicKey:  w.vapid.PublicKey,
		VAPIDPrivateKey: w.vapid.PrivateKey,
		TTL:             w.ttl,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return &DeliveryError{Channel: ChannelPush, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	return PushStatus(resp.StatusCode)
}
