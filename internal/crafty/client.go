package crafty

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logx "craftybot/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNotConfigured means the controller endpoint is unset or invalid.
var ErrNotConfigured = errors.New("crafty: controller is not configured")

// StatusError is a non-2xx answer from the controller.
type StatusError struct {
	Code   int
	Reason string
	Body   string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crafty: controller responded with %d (%s). Body: %s", e.Code, e.Reason, e.Body)
}

type Config struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	MaxParallel        int
	InsecureSkipVerify bool
}

const maxErrorBody = 4 << 10

// Client fetches server statistics from a Crafty Controller.
type Client struct {
	log logx.Logger

	mu   sync.Mutex
	cfg  Config
	http *http.Client
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps the configuration for subsequent fetches. In-flight fetches
// keep the snapshot they started with.
func (c *Client) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed controller certs
	}
	hc := &http.Client{Timeout: cfg.Timeout, Transport: tr}

	c.mu.Lock()
	c.cfg = cfg
	c.http = hc
	c.mu.Unlock()
}

// WithHTTPClient replaces the HTTP client (tests inject httptest clients).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.mu.Lock()
	c.http = hc
	c.mu.Unlock()
	return c
}

func (c *Client) snapshot() (Config, *http.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.http
}

// FetchSnapshot lists the servers and fetches the stats of each one
// concurrently. Any failed request fails the whole snapshot.
func (c *Client) FetchSnapshot(ctx context.Context) ([]ServerStats, error) {
	cfg, hc := c.snapshot()
	base, err := baseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	var servers envelope[[]Server]
	if err := c.getJSON(ctx, hc, cfg, base+"/api/v2/servers", &servers); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(servers.Data))
	for _, s := range servers.Data {
		if id := strings.TrimSpace(string(s.ID)); usableID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []ServerStats{}, nil
	}

	results := make([]*ServerStats, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxParallel)
	for i, id := range ids {
		g.Go(func() error {
			var st envelope[*ServerStats]
			if err := c.getJSON(gctx, hc, cfg, base+"/api/v2/servers/"+url.PathEscape(id)+"/stats", &st); err != nil {
				return err
			}
			results[i] = st.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ServerStats, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	c.log.Debug("snapshot fetched", logx.Int("servers", len(ids)), logx.Int("stats", len(out)))
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, hc *http.Client, cfg Config, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("crafty: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("crafty: get %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Code:   resp.StatusCode,
			Reason: http.StatusText(resp.StatusCode),
			Body:   strings.TrimSpace(string(body)),
			URL:    req.URL.Path,
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crafty: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func baseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: base_url is empty", ErrNotConfigured)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: base_url %q is invalid", ErrNotConfigured, raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// usableID filters empty and all-zero UUID ids.
func usableID(id string) bool {
	if id == "" {
		return false
	}
	if u, err := uuid.Parse(id); err == nil && u == uuid.Nil {
		return false
	}
	return true
}

// IsStatusError reports whether err carries a controller HTTP status.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
