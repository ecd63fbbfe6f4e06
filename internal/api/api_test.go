package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mmcdole/gofeed"

	"stock_monitor/internal/catalog"
	"stock_monitor/internal/model"
	"stock_monitor/internal/monitor"
	"stock_monitor/internal/notify"
	"stock_monitor/internal/registry"
	"stock_monitor/internal/snapshot"
	"stock_monitor/internal/storage"
	"stock_monitor/internal/token"
)

type mockCatalog struct {
	cat      *catalog.Catalog
	err      error
	totals   map[string]int
	probeErr map[string]error
}

func (m *mockCatalog) FetchAll(_ context.Context) (*catalog.Catalog, error) {
	return m.cat, m.err
}

func (m *mockCatalog) Probe(_ context.Context, tok string) (int, error) {
	if err := m.probeErr[tok]; err != nil {
		return 0, err
	}
	return m.totals[tok], nil
}

type mockCycle struct {
	res   *model.CheckResult
	err   error
	calls int
}

func (m *mockCycle) RunCycle(_ context.Context) (*model.CheckResult, error) {
	m.calls++
	return m.res, m.err
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	registry  *registry.Registry
	snapshots *snapshot.Store
	tokens    *token.Store
	catalog   *mockCatalog
	cycle     *mockCycle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		registry:  registry.New(kv, log),
		snapshots: snapshot.New(kv),
		tokens:    token.New(kv, ""),
		catalog:   &mockCatalog{totals: map[string]int{}, probeErr: map[string]error{}},
		cycle:     &mockCycle{},
	}
	env.srv = New(Options{
		Registry:       env.registry,
		Snapshots:      env.snapshots,
		Tokens:         env.tokens,
		Catalog:        env.catalog,
		Cycle:          env.cycle,
		Formatter:      notify.NewFormatter("https://shop.example"),
		VAPIDPublicKey: "public-key",
		Logger:         log,
	})
	env.handler = env.srv.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func price(p float64) *float64 { return &p }

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}

	rec = env.do(t, http.MethodOptions, "/api/subscribe", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := map[string]any{"timestamp": float64(0), "totalItemCount": float64(0), "changes": []any{}}
	if diff := cmp.Diff(want, decodeBody(t, rec)); diff != "" {
		t.Errorf("empty status mismatch (-want +got):\n%s", diff)
	}

	err := env.snapshots.SaveStatus(context.Background(), &model.CheckResult{
		Timestamp:      1_700_000_000_000,
		TotalItemCount: 3,
		Changes:        []model.Change{},
		LostPages:      []int{2},
	})
	if err != nil {
		t.Fatalf("save status: %v", err)
	}
	rec = env.do(t, http.MethodGet, "/api/status", nil)
	want = map[string]any{
		"timestamp":      float64(1_700_000_000_000),
		"totalItemCount": float64(3),
		"changes":        []any{},
		"lostPages":      []any{float64(2)},
	}
	if diff := cmp.Diff(want, decodeBody(t, rec)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestProducts(t *testing.T) {
	tests := []struct {
		name     string
		cat      *catalog.Catalog
		err      error
		wantCode int
		want     map[string]any
	}{
		{
			name:     "success",
			cat:      &catalog.Catalog{Items: []model.Item{{ID: 1, Name: "Steam card", Price: 10, Stock: 2}}, Total: 1},
			wantCode: http.StatusOK,
		},
		{
			name:     "upstream failure",
			err:      errors.New("catalog down"),
			wantCode: http.StatusBadGateway,
			want:     map[string]any{"success": false, "error": "catalog down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.catalog.cat, env.catalog.err = tt.cat, tt.err

			rec := env.do(t, http.MethodGet, "/api/products", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.want != nil {
				if diff := cmp.Diff(tt.want, decodeBody(t, rec)); diff != "" {
					t.Errorf("body mismatch (-want +got):\n%s", diff)
				}
				return
			}
			var got struct {
				Success  bool         `json:"success"`
				Products []model.Item `json:"products"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !got.Success {
				t.Error("success = false")
			}
			if diff := cmp.Diff(tt.cat.Items, got.Products); diff != "" {
				t.Errorf("products mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		res      *model.CheckResult
		err      error
		wantCode int
	}{
		{name: "ok", res: &model.CheckResult{Timestamp: 1, Changes: []model.Change{}}, wantCode: http.StatusOK},
		{name: "lease held", err: monitor.ErrLeaseHeld, wantCode: http.StatusConflict},
		{name: "fetch failed", err: errors.New("boom"), wantCode: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.cycle.res, env.cycle.err = tt.res, tt.err

			rec := env.do(t, http.MethodPost, "/api/check", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if env.cycle.calls != 1 {
				t.Errorf("RunCycle calls = %d, want 1", env.cycle.calls)
			}
		})
	}
}

func TestVAPIDKey(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/vapid-public-key", nil)
	if diff := cmp.Diff(map[string]any{"key": "public-key"}, decodeBody(t, rec)); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sub := model.PushSubscription{
		Endpoint: "https://push.example/1",
		Keys:     model.PushKeys{P256dh: "p256", Auth: "auth"},
	}

	rec := env.do(t, http.MethodPost, "/api/subscribe", map[string]any{
		"subscription":    sub,
		"keywords":        []string{" steam ", ""},
		"excludeKeywords": []string{"test"},
		"targetPrice":     50,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, _ := body["id"].(string)
	if body["ok"] != true || id == "" {
		t.Fatalf("subscribe body = %v", body)
	}

	got, err := env.registry.FindPush(ctx, sub.Endpoint)
	if err != nil {
		t.Fatalf("find push: %v", err)
	}
	want := model.KeywordFilter{
		Keywords:        []string{"steam"},
		ExcludeKeywords: []string{"test"},
		TargetPrice:     price(50),
		NotifiedItemIDs: []int64{},
	}
	if diff := cmp.Diff(want, got.KeywordFilter, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("stored filter mismatch (-want +got):\n%s", diff)
	}

	// Re-subscribing the same endpoint keeps the ID.
	rec = env.do(t, http.MethodPost, "/api/subscribe", map[string]any{"subscription": sub})
	if decodeBody(t, rec)["id"] != id {
		t.Errorf("re-subscribe changed id")
	}

	// Updating keywords with the same price keeps the dedupe set.
	got, _ = env.registry.FindPush(ctx, sub.Endpoint)
	got.SetTargetPrice(price(50))
	got.NotifiedItemIDs = []int64{7}
	if err := env.registry.Save(ctx, got); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec = env.do(t, http.MethodPut, "/api/subscribe", map[string]any{
		"endpoint":    sub.Endpoint,
		"keywords":    []string{"netflix"},
		"targetPrice": 50,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	got, _ = env.registry.FindPush(ctx, sub.Endpoint)
	if diff := cmp.Diff([]int64{7}, got.NotifiedItemIDs); diff != "" {
		t.Errorf("same price: notified mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"netflix"}, got.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}

	// A new price resets it.
	env.do(t, http.MethodPut, "/api/subscribe", map[string]any{
		"endpoint":    sub.Endpoint,
		"keywords":    []string{"netflix"},
		"targetPrice": 40,
	})
	got, _ = env.registry.FindPush(ctx, sub.Endpoint)
	if diff := cmp.Diff([]int64{}, got.NotifiedItemIDs, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("new price: notified mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodDelete, "/api/subscribe", map[string]any{"endpoint": sub.Endpoint})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := env.registry.FindPush(ctx, sub.Endpoint); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     any
		wantCode int
	}{
		{name: "missing endpoint", method: http.MethodPost, body: map[string]any{"keywords": []string{"a"}}, wantCode: http.StatusBadRequest},
		{
			name:   "negative price",
			method: http.MethodPost,
			body: map[string]any{
				"subscription": map[string]any{"endpoint": "https://push.example/1"},
				"targetPrice":  -5,
			},
			wantCode: http.StatusBadRequest,
		},
		{name: "update unknown", method: http.MethodPut, body: map[string]any{"endpoint": "https://push.example/x"}, wantCode: http.StatusNotFound},
		{name: "delete unknown", method: http.MethodDelete, body: map[string]any{"endpoint": "https://push.example/x"}, wantCode: http.StatusOK},
		{name: "malformed", method: http.MethodPost, body: "not an object", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, tt.method, "/api/subscribe", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestSetToken(t *testing.T) {
	later := time.Unix(1_900_000_000, 0)
	earlier := time.Unix(1_800_000_000, 0)

	tests := []struct {
		name     string
		stored   string
		token    string
		totals   map[string]int
		probeErr map[string]error
		wantCode int
		wantKept string
	}{
		{
			name:     "unlocks more items",
			token:    signed(t, later),
			totals:   map[string]int{"": 10},
			wantCode: http.StatusOK,
		},
		{
			name:     "no extra items",
			token:    "opaque",
			totals:   map[string]int{"": 10, "opaque": 10},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "rejected upstream",
			token:    "bad",
			probeErr: map[string]error{"bad": &catalog.UpstreamError{Page: 1, Status: http.StatusUnauthorized}},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expires earlier than stored",
			stored:   signed(t, later),
			token:    signed(t, earlier),
			totals:   map[string]int{"": 10},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty",
			token:    "",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			if tt.totals != nil {
				env.catalog.totals = tt.totals
			}
			if tt.probeErr != nil {
				env.catalog.probeErr = tt.probeErr
			}
			if tt.token != "" && tt.totals != nil {
				if _, ok := tt.totals[tt.token]; !ok {
					env.catalog.totals[tt.token] = 25
				}
			}
			if tt.stored != "" {
				if err := env.tokens.Set(ctx, tt.stored); err != nil {
					t.Fatalf("seed token: %v", err)
				}
			}

			rec := env.do(t, http.MethodPost, "/api/token", map[string]string{"token": tt.token})
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}

			stored, err := env.tokens.Stored(ctx)
			if err != nil {
				t.Fatalf("stored: %v", err)
			}
			want := tt.stored
			if tt.wantCode == http.StatusOK {
				want = tt.token
				body := decodeBody(t, rec)
				if body["before"] != float64(10) || body["after"] != float64(25) {
					t.Errorf("body = %v, want before 10 after 25", body)
				}
				if body["exp"] != float64(later.Unix()) {
					t.Errorf("exp = %v, want %d", body["exp"], later.Unix())
				}
			}
			if diff := cmp.Diff(want, stored); diff != "" {
				t.Errorf("stored token mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	exp := time.Unix(1_900_000_000, 0)

	rec := env.do(t, http.MethodGet, "/api/token", nil)
	if diff := cmp.Diff(map[string]any{"hasToken": false}, decodeBody(t, rec)); diff != "" {
		t.Errorf("empty token status mismatch (-want +got):\n%s", diff)
	}

	if err := env.tokens.Set(ctx, signed(t, exp)); err != nil {
		t.Fatalf("set token: %v", err)
	}
	rec = env.do(t, http.MethodGet, "/api/token", nil)
	want := map[string]any{"hasToken": true, "exp": float64(exp.Unix())}
	if diff := cmp.Diff(want, decodeBody(t, rec)); diff != "" {
		t.Errorf("token status mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodDelete, "/api/token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	stored, _ := env.tokens.Stored(ctx)
	if stored != "" {
		t.Errorf("stored after delete = %q, want empty", stored)
	}
}

func TestFeed(t *testing.T) {
	env := newTestEnv(t)
	err := env.snapshots.SaveStatus(context.Background(), &model.CheckResult{
		Timestamp:      1_700_000_000_000,
		TotalItemCount: 2,
		Changes: []model.Change{
			{Kind: model.ChangeNew, Item: model.Item{ID: 1, Name: "Steam card", Price: 10, UpdatedAt: 5}, StockText: "3"},
			{Kind: model.ChangeRestocked, Item: model.Item{ID: 2, Name: "Netflix", Price: 7.5, UpdatedAt: 6}, StockText: "unlimited"},
		},
	})
	if err != nil {
		t.Fatalf("save status: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/feed.xml", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	feed, err := gofeed.NewParser().ParseString(rec.Body.String())
	if err != nil {
		t.Fatalf("parse feed: %v", err)
	}
	type entry struct{ Title, Link string }
	var got []entry
	for _, it := range feed.Items {
		got = append(got, entry{Title: it.Title, Link: it.Link})
	}
	want := []entry{
		{Title: "🆕 New item: Steam card", Link: "https://shop.example/product/1"},
		{Title: "📦 Restocked: Netflix", Link: "https://shop.example/product/2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("feed items mismatch (-want +got):\n%s", diff)
	}
}
