package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stock_monitor/internal/model"
	"stock_monitor/internal/notify"
	"stock_monitor/internal/registry"
)

const notSubscribed = "Not subscribed. Send /start to subscribe."

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if _, err := b.registry.GetChat(ctx, chatID); errors.Is(err, registry.ErrNotFound) {
		if err := b.registry.Save(ctx, registry.NewChatSubscriber(chatID)); err != nil {
			b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
			return
		}
	} else if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(ctx, chatID, `✅ Subscribed to shop updates.

Current setting: notify about every item.

Commands:
/subscribe <kw...> — only items matching any keyword
/exclude <kw...> — skip items matching any keyword
/setprice <price> — alert when a matching item is at or below price
/delprice — cancel the price alert
/status — show current settings
/unsubscribe — stop notifications`)
}

func (b *Bot) handleHelp(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, `Shop monitor bot

/start — subscribe
/subscribe <kw...> — set match keywords
/exclude <kw...> — set exclude keywords
/setprice <price> — set price alert
/delprice — cancel price alert
/status — show current settings
/unsubscribe — unsubscribe

Keywords are separated by spaces.`)
}

// updateChat loads the chat record, creating a fresh one if needed, applies
// mutate and saves it.
func (b *Bot) updateChat(ctx context.Context, chatID int64, mutate func(*model.ChatSubscriber)) error {
	sub, err := b.registry.GetOrNewChat(ctx, chatID)
	if err != nil {
		return err
	}
	mutate(sub)
	return b.registry.Save(ctx, sub)
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64, args string) {
	keywords := ParseKeywords(args)
	if len(keywords) == 0 {
		b.reply(ctx, chatID, "Usage: /subscribe steam netflix\nSeparate keywords with spaces.")
		return
	}
	err := b.updateChat(ctx, chatID, func(sub *model.ChatSubscriber) {
		sub.Keywords = keywords
	})
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, chatID, "✅ Keywords updated: "+strings.Join(keywords, ", "))
}

func (b *Bot) handleExclude(ctx context.Context, chatID int64, args string) {
	keywords := ParseKeywords(args)
	if len(keywords) == 0 {
		b.reply(ctx, chatID, "Usage: /exclude test pro\nSeparate keywords with spaces.")
		return
	}
	err := b.updateChat(ctx, chatID, func(sub *model.ChatSubscriber) {
		sub.ExcludeKeywords = keywords
	})
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, chatID, "✅ Exclude keywords updated: "+strings.Join(keywords, ", "))
}

func (b *Bot) handleSetPrice(ctx context.Context, chatID int64, args string) {
	price, err := ParsePrice(args)
	if err != nil {
		b.reply(ctx, chatID, "Usage: /setprice 100\nYou are notified when a matching item costs at most this much.")
		return
	}
	err = b.updateChat(ctx, chatID, func(sub *model.ChatSubscriber) {
		sub.SetTargetPrice(&price)
	})
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("✅ Price alert set: matching items ≤ %s", notify.FormatPrice(price)))
}

func (b *Bot) handleDelPrice(ctx context.Context, chatID int64) {
	sub, err := b.registry.GetChat(ctx, chatID)
	if errors.Is(err, registry.ErrNotFound) {
		b.reply(ctx, chatID, notSubscribed)
		return
	}
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	sub.SetTargetPrice(nil)
	if err := b.registry.Save(ctx, sub); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, chatID, "✅ Price alert cancelled")
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	sub, err := b.registry.GetChat(ctx, chatID)
	if errors.Is(err, registry.ErrNotFound) {
		b.reply(ctx, chatID, notSubscribed)
		return
	}
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	text := FormatSettings(sub)
	if b.status != nil {
		res, err := b.status.LoadStatus(ctx)
		if err != nil {
			b.log.Error("load status", "chat_id", chatID, "error", err)
		} else {
			text += "\n\n" + FormatLastCheck(res)
		}
	}
	b.reply(ctx, chatID, text)
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64) {
	if err := b.registry.DeleteChat(ctx, chatID); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(ctx, chatID, "Unsubscribed, no more notifications.\nSend /start to subscribe again.")
}
