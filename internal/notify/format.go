package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"stock_monitor/internal/model"
)

// Currency is the unit prices are shown in.
const Currency = "LDC"

// Formatter renders notifications for both channels.
type Formatter struct {
	shopURL string
}

// NewFormatter creates a Formatter linking items below shopURL.
func NewFormatter(shopURL string) *Formatter {
	return &Formatter{shopURL: strings.TrimRight(shopURL, "/")}
}

// ShopURL returns the shop front page.
func (f *Formatter) ShopURL() string {
	return f.shopURL + "/"
}

// ItemURL returns the shop page of an item.
func (f *Formatter) ItemURL(id int64) string {
	return fmt.Sprintf("%s/product/%d", f.shopURL, id)
}

// KindLabel returns the human-readable label of a change kind.
func KindLabel(kind model.ChangeKind) string {
	switch kind {
	case model.ChangeNew:
		return "🆕 New item"
	case model.ChangeRestocked:
		return "📦 Restocked"
	default:
		return "🔄 Updated"
	}
}

// FormatPrice renders a price without trailing zeros.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + " " + Currency
}

// ChatChange formats a change as a Telegram HTML message.
func (f *Formatter) ChatChange(c model.Change) string {
	var b strings.Builder
	b.WriteString(KindLabel(c.Kind))
	fmt.Fprintf(&b, "\n<b>%s</b>\n", html.EscapeString(c.Item.Name))
	fmt.Fprintf(&b, "💰 %s | 📦 Stock: %s\n", FormatPrice(c.Item.Price), c.StockText)
	b.WriteString(f.ItemURL(c.Item.ID))
	return b.String()
}

// ChatPriceAlert formats a price alert as a Telegram HTML message.
func (f *Formatter) ChatPriceAlert(item model.Item, target float64) string {
	var b strings.Builder
	b.WriteString("💰 Price alert")
	fmt.Fprintf(&b, "\n<b>%s</b>\n", html.EscapeString(item.Name))
	fmt.Fprintf(&b, "Price: %s ≤ %s\n", FormatPrice(item.Price), FormatPrice(target))
	fmt.Fprintf(&b, "📦 Stock: %s\n", item.StockText())
	b.WriteString(f.ItemURL(item.ID))
	return b.String()
}

// PushChange formats a change as a Web Push payload.
func (f *Formatter) PushChange(c model.Change) Payload {
	return Payload{
		Title: "Shop " + KindLabel(c.Kind),
		Body:  fmt.Sprintf("%s | %s | Stock: %s", c.Item.Name, FormatPrice(c.Item.Price), c.StockText),
		URL:   f.ItemURL(c.Item.ID),
	}
}

// PushPriceAlert formats a price alert as a Web Push payload.
func (f *Formatter) PushPriceAlert(item model.Item, target float64) Payload {
	return Payload{
		Title: "Shop 💰 Price alert",
		Body:  fmt.Sprintf("%s | %s ≤ %s | Stock: %s", item.Name, FormatPrice(item.Price), FormatPrice(target), item.StockText()),
		URL:   f.ItemURL(item.ID),
	}
}
