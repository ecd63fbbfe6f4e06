// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Supported storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	CatalogURL      string
	CatalogPageSize int
	ShopURL         string
	APIToken        string
	PollInterval    time.Duration
	CycleLease      bool

	StorageBackend string
	DatabasePath   string
	DatabaseURL    string
	GCSBucket      string
	GCSPrefix      string

	HTTPAddr     string
	LogLevel     string
	AllowedUsers []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		VAPIDPublicKey:   os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:  os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:     os.Getenv("VAPID_SUBJECT"),
		CatalogURL:       os.Getenv("CATALOG_URL"),
		ShopURL:          os.Getenv("SHOP_URL"),
		APIToken:         os.Getenv("API_TOKEN"),
		StorageBackend:   envOr("STORAGE_BACKEND", BackendSQLite),
		DatabasePath:     envOr("DATABASE_PATH", "./data/monitor.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		GCSBucket:        os.Getenv("GCS_BUCKET"),
		GCSPrefix:        os.Getenv("GCS_PREFIX"),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
	}

	if cfg.CatalogURL == "" {
		return nil, fmt.Errorf("CATALOG_URL is required")
	}

	cfg.CatalogPageSize = 50
	if raw := os.Getenv("CATALOG_PAGE_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid CATALOG_PAGE_SIZE %q", raw)
		}
		cfg.CatalogPageSize = n
	}

	cfg.PollInterval = time.Minute
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q", raw)
		}
		cfg.PollInterval = d
	}

	if raw := os.Getenv("CYCLE_LEASE"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CYCLE_LEASE %q: %w", raw, err)
		}
		cfg.CycleLease = v
	}

	switch cfg.StorageBackend {
	case BackendSQLite:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required for the gcs backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	vapid := []string{cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject}
	if slices.Contains(vapid, "") && slices.ContainsFunc(vapid, func(s string) bool { return s != "" }) {
		return nil, fmt.Errorf("VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY and VAPID_SUBJECT must be set together")
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// PushEnabled reports whether Web Push delivery is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != ""
}

// ChatEnabled reports whether the Telegram bot is configured.
func (c *Config) ChatEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}
