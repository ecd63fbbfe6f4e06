package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"stock_monitor/internal/config"
	"stock_monitor/internal/model"
	"stock_monitor/internal/notify"
	"stock_monitor/internal/registry"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StatusSource returns the result of the last poll cycle.
type StatusSource interface {
	LoadStatus(ctx context.Context) (*model.CheckResult, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api      telegramAPI
	registry *registry.Registry
	status   StatusSource
	cfg      *config.Config
	limiter  *rate.Limiter
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token, subscriber registry, and config.
func New(token string, reg *registry.Registry, status StatusSource, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, reg, status, cfg, log), nil
}

func newBot(api telegramAPI, reg *registry.Registry, status StatusSource, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		registry: reg,
		status:   status,
		cfg:      cfg,
		// ~20 messages/sec max for Telegram
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		log:     log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From != nil && !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(ctx, update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendChat sends an HTML notification to a chat. Failures are returned as
// *notify.DeliveryError; blocked bots and invalid chats are permanent.
func (b *Bot) SendChat(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return &notify.DeliveryError{Channel: notify.ChannelChat, Err: err}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return notify.ChatStatus(apiErr.Code, err)
		}
		return notify.ChatStatus(0, err)
	}
	return nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.limiter.Wait(ctx); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(ctx, chatID)
	case "subscribe":
		b.handleSubscribe(ctx, chatID, args)
	case "exclude":
		b.handleExclude(ctx, chatID, args)
	case "setprice":
		b.handleSetPrice(ctx, chatID, args)
	case "delprice":
		b.handleDelPrice(ctx, chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "unsubscribe":
		b.handleUnsubscribe(ctx, chatID)
	default:
		b.reply(ctx, chatID, "Unknown command. Use /help for a list of commands.")
	}
}
