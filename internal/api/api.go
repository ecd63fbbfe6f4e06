// Package api serves the HTTP interface: push subscriptions, monitor status,
// the catalog token and an RSS feed of recent changes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stock_monitor/internal/catalog"
	"stock_monitor/internal/model"
	"stock_monitor/internal/notify"
	"stock_monitor/internal/registry"
	"stock_monitor/internal/snapshot"
	"stock_monitor/internal/token"
)

// Catalog fetches the live catalog.
type Catalog interface {
	FetchAll(ctx context.Context) (*catalog.Catalog, error)
	Probe(ctx context.Context, token string) (int, error)
}

// Cycle runs one poll cycle on demand.
type Cycle interface {
	RunCycle(ctx context.Context) (*model.CheckResult, error)
}

// Options are the dependencies of a Server.
type Options struct {
	Registry       *registry.Registry
	Snapshots      *snapshot.Store
	Tokens         *token.Store
	Catalog        Catalog
	Cycle          Cycle
	Formatter      *notify.Formatter
	VAPIDPublicKey string
	Logger         *slog.Logger
}

// Server handles HTTP requests.
type Server struct {
	registry  *registry.Registry
	snapshots *snapshot.Store
	tokens    *token.Store
	catalog   Catalog
	cycle     Cycle
	format    *notify.Formatter
	vapidKey  string
	log       *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		registry:  opts.Registry,
		snapshots: opts.Snapshots,
		tokens:    opts.Tokens,
		catalog:   opts.Catalog,
		cycle:     opts.Cycle,
		format:    opts.Formatter,
		vapidKey:  opts.VAPIDPublicKey,
		log:       opts.Logger,
	}
}

// Routes returns the HTTP handler with all routes registered.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/products", s.handleProducts)
		r.Post("/check", s.handleCheck)
		r.Get("/feed.xml", s.handleFeed)

		r.Get("/vapid-public-key", s.handleVAPIDKey)
		r.Post("/subscribe", s.handleSubscribe)
		r.Put("/subscribe", s.handleUpdateSubscription)
		r.Delete("/subscribe", s.handleUnsubscribe)

		r.Get("/token", s.handleTokenStatus)
		r.Post("/token", s.handleSetToken)
		r.Delete("/token", s.handleDeleteToken)
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst)
}
