// Package catalog downloads the paginated product listing of the shop.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/sync/errgroup"

	"stock_monitor/internal/model"
	"stock_monitor/internal/token"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token forwarded to the catalog API.
// An empty token means anonymous access.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

const (
	// maxPages bounds the page count taken from the upstream response.
	maxPages = 1000
	// expiryWarning is how long before its expiry a token is reported.
	expiryWarning = 3 * 24 * time.Hour
)

// UpstreamError reports a failed catalog request.
type UpstreamError struct {
	Page   int
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog page %d: status %d: %v", e.Page, e.Status, e.Err)
	}
	return fmt.Sprintf("catalog page %d: %v", e.Page, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) retryable() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

var errUnsuccessful = errors.New("api returned failure")

// Catalog is the full product listing of one fetch.
type Catalog struct {
	Items      []model.Item
	TotalPages int
	Total      int
	// LostPages lists pages whose items are missing from Items.
	LostPages []int
}

// Config describes the catalog endpoint.
type Config struct {
	BaseURL  string
	PageSize int
	// Origin is sent as origin and referer, as a browser on the shop would.
	Origin string
}

// Fetcher downloads catalog pages.
type Fetcher struct {
	client      HTTPClient
	cfg         Config
	tokens      TokenSource
	logger      *slog.Logger
	concurrency int
	attempts    uint
	retryDelay  time.Duration
	now         func() time.Time

	mu     sync.Mutex
	warned string
}

// New creates a Fetcher. tokens may be nil.
func New(client HTTPClient, cfg Config, tokens TokenSource, logger *slog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Fetcher{
		client:      client,
		cfg:         cfg,
		tokens:      tokens,
		logger:      logger,
		concurrency: 8,
		attempts:    3,
		retryDelay:  time.Second,
		now:         time.Now,
	}
}

type pageResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Products   []model.Item `json:"products"`
		Items      []model.Item `json:"items"`
		Pagination struct {
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	} `json:"data"`
}

func (p *pageResponse) items() []model.Item {
	if len(p.Data.Products) > 0 {
		return p.Data.Products
	}
	return p.Data.Items
}

// FetchAll downloads page 1, then every remaining page concurrently.
// A failure on page 1 aborts the fetch with an *UpstreamError. A failure on
// a later page drops that page's items and records it in LostPages.
func (f *Fetcher) FetchAll(ctx context.Context) (*Catalog, error) {
	token, err := f.token(ctx)
	if err != nil {
		return nil, err
	}

	f.checkExpiry(token)

	first, err := f.firstPage(ctx, token)
	if err != nil {
		return nil, err
	}
	if n := first.Data.Pagination.TotalPages; n > maxPages {
		return nil, &UpstreamError{Page: 1, Err: fmt.Errorf("totalPages %d exceeds limit %d", n, maxPages)}
	}

	cat := &Catalog{
		TotalPages: first.Data.Pagination.TotalPages,
		Total:      first.Data.Pagination.Total,
	}
	cat.Items = append(cat.Items, first.items()...)
	if cat.TotalPages <= 1 {
		return cat, nil
	}

	pages := make([][]model.Item, cat.TotalPages+1)
	lost := make([]bool, cat.TotalPages+1)

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for p := 2; p <= cat.TotalPages; p++ {
		g.Go(func() error {
			resp, err := f.fetchPage(ctx, p, token)
			if err != nil {
				f.logger.Warn("lost catalog page", "page", p, "error", err)
				lost[p] = true
				return nil
			}
			pages[p] = resp.items()
			return nil
		})
	}
	_ = g.Wait()

	for p := 2; p <= cat.TotalPages; p++ {
		if lost[p] {
			cat.LostPages = append(cat.LostPages, p)
			continue
		}
		cat.Items = append(cat.Items, pages[p]...)
	}
	return cat, nil
}

// Probe fetches page 1 with the given token, or anonymously when token is
// empty, and returns the number of items the catalog reports.
func (f *Fetcher) Probe(ctx context.Context, token string) (int, error) {
	resp, err := f.fetchPage(ctx, 1, token)
	if err != nil {
		return 0, err
	}
	return resp.Data.Pagination.Total, nil
}

// checkExpiry logs a warning once per token and state when the token is
// expired or close to expiry.
func (f *Fetcher) checkExpiry(tok string) {
	exp := token.Expiry(tok)
	if exp.IsZero() {
		return
	}
	left := exp.Sub(f.now())
	if left > expiryWarning {
		return
	}

	state := "soon"
	if left <= 0 {
		state = "expired"
	}
	f.mu.Lock()
	seen := f.warned == state+":"+tok
	f.warned = state + ":" + tok
	f.mu.Unlock()
	if seen {
		return
	}

	if left <= 0 {
		f.logger.Warn("api token expired", "expired_at", exp)
		return
	}
	f.logger.Warn("api token expires soon", "expires_at", exp, "hours_left", int(left.Hours()))
}

func (f *Fetcher) token(ctx context.Context) (string, error) {
	if f.tokens == nil {
		return "", nil
	}
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("load api token: %w", err)
	}
	return token, nil
}

func (f *Fetcher) firstPage(ctx context.Context, token string) (*pageResponse, error) {
	var (
		resp    *pageResponse
		lastErr *UpstreamError
	)
	err := retry.Do(
		func() error {
			r, err := f.fetchPage(ctx, 1, token)
			if err != nil {
				lastErr = err
				return err
			}
			resp = r
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(f.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info("retrying catalog page", "page", 1, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var ue *UpstreamError
			return errors.As(err, &ue) && ue.retryable()
		}),
	)
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &UpstreamError{Page: 1, Err: err}
	}
	return resp, nil
}

func (f *Fetcher) pageURL(page int) (string, error) {
	u, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse catalog url: %w", err)
	}
	q := u.Query()
	q.Set("pageSize", strconv.Itoa(f.cfg.PageSize))
	q.Set("sortBy", "updated_at")
	q.Set("sortOrder", "DESC")
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Fetcher) fetchPage(ctx context.Context, page int, token string) (*pageResponse, *UpstreamError) {
	fail := func(status int, err error) (*pageResponse, *UpstreamError) {
		return nil, &UpstreamError{Page: page, Status: status, Err: err}
	}

	target, err := f.pageURL(page)
	if err != nil {
		return fail(0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fail(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if f.cfg.Origin != "" {
		origin := strings.TrimRight(f.cfg.Origin, "/")
		req.Header.Set("Origin", origin)
		req.Header.Set("Referer", origin+"/")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(0, fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fail(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fail(0, fmt.Errorf("read body: %w", err))
	}

	var out pageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode page: %w", err))
	}
	if !out.Success {
		return fail(resp.StatusCode, errUnsuccessful)
	}
	return &out, nil
}
