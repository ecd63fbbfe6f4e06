// Package notify delivers notifications over Web Push and classifies
// delivery failures.
package notify

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPermanent matches delivery errors after which the target address must
// be dropped.
var ErrPermanent = errors.New("delivery target permanently unavailable")

// DeliveryError is a non-success delivery status reported by a transport.
type DeliveryError struct {
	Channel   string
	Status    int
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s delivery failed (%s, status %d): %v", e.Channel, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s delivery failed (%s, status %d)", e.Channel, kind, e.Status)
}

// Is makes errors.Is(err, ErrPermanent) report permanent failures.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrPermanent && e.Permanent
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Channel names used in delivery errors and logs.
const (
	ChannelPush = "push"
	ChannelChat = "chat"
)

// PushStatus classifies a Web Push response status. 404 and 410 mean the
// subscription is gone.
func PushStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return &DeliveryError{
		Channel:   ChannelPush,
		Status:    status,
		Permanent: status == http.StatusGone || status == http.StatusNotFound,
	}
}

// ChatStatus classifies a Telegram API error code. 403 means the bot was
// blocked and 400 that the chat is invalid.
func ChatStatus(status int, err error) error {
	if err == nil && status >= 200 && status < 300 {
		return nil
	}
	return &DeliveryError{
		Channel:   ChannelChat,
		Status:    status,
		Permanent: status == http.StatusForbidden || status == http.StatusBadRequest,
		Err:       err,
	}
}
