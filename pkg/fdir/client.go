// Package fdir is a minimal client for the Fiskeridirektoratet public
// aquaculture API: license transfer history, license details, and the daily
// legacy CSV dump. All calls pass through a shared rate limiter; the
// upstream is a public service with no SLA toward us.
package fdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBase is the production API root.
const DefaultBase = "https://api.fiskeridir.no/pub-aqua/api/v1"

// ErrNotFound reports a permit the upstream does not know.
var ErrNotFound = errors.New("fdir: not found")

// Client calls the public aquaculture API.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API root, mainly for tests.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.base = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient builds a client against DefaultBase at 2 requests per second.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		base:    DefaultBase,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransferEvent is one recorded license transfer.
type TransferEvent struct {
	TransferKey  string          `json:"key"`
	IdentityNr   string          `json:"identityNr"`
	OfficialName string          `json:"officialName"`
	JournalDate  string          `json:"journalDate"`
	JournalNr    string          `json:"journalNr"`
	UpdatedAt    string          `json:"updatedTime"`
	Raw          json.RawMessage `json:"-"`
}

// TransferHistory is the upstream transfer record for one license.
type TransferHistory struct {
	AjourDate string          `json:"ajourDate"`
	Transfers []TransferEvent `json:"transfers"`
}

// Transfers fetches the license's transfer history.
func (c *Client) Transfers(ctx context.Context, permitKey string) (*TransferHistory, error) {
	var history TransferHistory
	path := "/licenses/" + url.PathEscape(permitKey) + "/transfers"
	if err := c.getJSON(ctx, path, &history); err != nil {
		return nil, err
	}
	// Keep the raw event JSON alongside the parsed fields; the store caches
	// it verbatim so a schema change upstream loses nothing.
	for i := range history.Transfers {
		raw, err := json.Marshal(history.Transfers[i])
		if err != nil {
			return nil, fmt.Errorf("fdir: encode transfer: %w", err)
		}
		history.Transfers[i].Raw = raw
	}
	return &history, nil
}

// LicenseDetails is the slice of the upstream detail record we keep: the
// original grantee and production-area placement.
type LicenseDetails struct {
	GrantInformation struct {
		OpenLegalEntityNr string `json:"openLegalEntityNr"`
		LegalEntityName   string `json:"legalEntityName"`
	} `json:"grantInformation"`
	Placement struct {
		ProdAreaCode   *int64 `json:"prodAreaCode"`
		ProdAreaName   string `json:"prodAreaName"`
		ProdAreaStatus string `json:"prodAreaStatus"`
	} `json:"placement"`
	Raw json.RawMessage `json:"-"`
}

// Details fetches the license detail record.
func (c *Client) Details(ctx context.Context, permitKey string) (*LicenseDetails, error) {
	body, err := c.get(ctx, "/licenses/"+url.PathEscape(permitKey))
	if err != nil {
		return nil, err
	}
	var d LicenseDetails
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("fdir: decode details for %s: %w", permitKey, err)
	}
	d.Raw = body
	return &d, nil
}

// DownloadDailyDump fetches today's legacy CSV dump into dir, named with the
// ISO date prefix the extract loader expects. Already-downloaded days are
// skipped, so a retried cron run costs nothing. Returns the written path.
func (c *Client) DownloadDailyDump(ctx context.Context, dir string) (string, error) {
	name := time.Now().UTC().Format("2006-01-02") + "-akvakulturtillatelser.csv"
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		c.log.Info("daily dump already present, skipping", "path", path)
		return path, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/dump/new-legacy-csv", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fdir: download dump: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fdir: download dump: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("fdir: write dump: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	c.log.Info("daily dump downloaded", "path", path)
	return path, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("fdir: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fdir: GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("fdir: GET %s: %w", path, ErrNotFound)
	default:
		return nil, fmt.Errorf("fdir: GET %s: unexpected status %s", path, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fdir: GET %s: read body: %w", path, err)
	}
	return body, nil
}
