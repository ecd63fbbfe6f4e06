package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"stock_monitor/internal/api"
	"stock_monitor/internal/bot"
	"stock_monitor/internal/catalog"
	"stock_monitor/internal/config"
	"stock_monitor/internal/fanout"
	"stock_monitor/internal/monitor"
	"stock_monitor/internal/notify"
	"stock_monitor/internal/registry"
	"stock_monitor/internal/snapshot"
	"stock_monitor/internal/storage"
	"stock_monitor/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("monitor stopped", "error", err)
		os.Exit(1)
	}
	log.Info("monitor stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg := registry.New(store, log)
	snapshots := snapshot.New(store)
	tokens := token.New(store, cfg.APIToken)
	format := notify.NewFormatter(cfg.ShopURL)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetcher := catalog.New(httpClient, catalog.Config{
		BaseURL:  cfg.CatalogURL,
		PageSize: cfg.CatalogPageSize,
		Origin:   cfg.ShopURL,
	}, tokens, log)

	var push fanout.PushSender
	if cfg.PushEnabled() {
		push = notify.NewWebPush(httpClient, notify.VAPID{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		})
	} else {
		log.Info("web push disabled: VAPID keys not configured")
	}

	var (
		chat fanout.ChatSender
		b    *bot.Bot
	)
	if cfg.ChatEnabled() {
		b, err = bot.New(cfg.TelegramBotToken, reg, snapshots, cfg, log)
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		chat = b
	} else {
		log.Info("telegram disabled: TELEGRAM_BOT_TOKEN not set")
	}

	engine := fanout.New(reg, push, chat, format, log)

	sched := monitor.New(fetcher, snapshots, engine, log)
	sched.SetTickInterval(cfg.PollInterval)
	if cfg.CycleLease {
		sched.SetLease(monitor.NewLease(store, cfg.PollInterval))
	}

	var vapidKey string
	if cfg.PushEnabled() {
		vapidKey = cfg.VAPIDPublicKey
	}
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.New(api.Options{
			Registry:       reg,
			Snapshots:      snapshots,
			Tokens:         tokens,
			Catalog:        fetcher,
			Cycle:          sched,
			Formatter:      format,
			VAPIDPublicKey: vapidKey,
			Logger:         log,
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting monitor",
		"storage", cfg.StorageBackend,
		"http_addr", cfg.HTTPAddr,
		"poll_interval", cfg.PollInterval,
		"push", push != nil,
		"telegram", chat != nil,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	if b != nil {
		g.Go(func() error {
			b.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		store, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storage.NewGCS(client, cfg.GCSBucket, cfg.GCSPrefix, log), nil
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
		store, err := storage.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
		}
		return store, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
