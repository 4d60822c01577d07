// Package pce is a client for the policy compute engine REST API, limited to
// what the scheduler needs: reading rules and rule sets, toggling them,
// rewriting their descriptions, and provisioning drafts together with their
// dependencies.
package pce

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ProvisionDescription is the change description attached to every provision request.
const ProvisionDescription = "Auto-Scheduler: Status/Note Update"

// Config holds connection settings for a PCE.
type Config struct {
	// BaseURL is the PCE address, e.g. https://pce.example.com:8443.
	BaseURL string

	// OrgID is the organization ID.
	OrgID string

	// APIKey and APISecret are the API key credentials used for basic auth.
	APIKey    string
	APISecret string

	// Timeout bounds every request. Defaults to 30s.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// RateLimit is the sustained request rate per second. Zero means unlimited.
	RateLimit float64

	// RateBurst is the limiter burst size. Defaults to 1 when RateLimit is set.
	RateBurst int
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("pce url is required")
	}
	if strings.TrimSpace(c.OrgID) == "" {
		return fmt.Errorf("org id is required")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("api key and secret are required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRequestObserver registers fn to be called after every request with
// the HTTP method, the status (0 when no response was received) and the
// elapsed time.
func WithRequestObserver(fn func(method string, status int, elapsed time.Duration)) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// Client talks to one PCE organization. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	labels  *LabelCache
	observe func(method string, status int, elapsed time.Duration)

	mu       sync.Mutex
	ruleSets []Object
}

// NewClient creates a client for cfg.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pce config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if cfg.RateBurst <= 0 {
			cfg.RateBurst = 1
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in for self-signed PCE certificates
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		logger:  logger.With().Str("component", "pce-client").Str("org", cfg.OrgID).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.labels = newLabelCache(c)
	return c, nil
}

// OrgID returns the organization the client is bound to.
func (c *Client) OrgID() string {
	return c.cfg.OrgID
}

// Labels returns the client's label cache.
func (c *Client) Labels() *LabelCache {
	return c.labels
}

func (c *Client) orgPath(format string, args ...any) string {
	return fmt.Sprintf("/orgs/%s", c.cfg.OrgID) + fmt.Sprintf(format, args...)
}

// response is a completed HTTP exchange. A nil response with an error means
// no status was obtained.
type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do performs one request against /api/v2{path}. Transport failures are
// returned as unreachable errors; any HTTP status is returned as a response.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RemoteError{Class: ClassUnreachable, Op: method, Href: path, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+"/api/v2"+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(method, 0, start)
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("PCE request failed")
		return nil, &RemoteError{Class: ClassUnreachable, Op: method, Href: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.record(method, resp.StatusCode, start)
	if err != nil {
		return nil, &RemoteError{Class: ClassUnreachable, Op: method, Href: path, Status: resp.StatusCode, Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("PCE request")

	return &response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) record(method string, status int, start time.Time) {
	if c.observe != nil {
		c.observe(method, status, time.Since(start))
	}
}

func (c *Client) get(ctx context.Context, path string) (*response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) put(ctx context.Context, path string, payload any) (*response, error) {
	return c.do(ctx, http.MethodPut, path, payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*response, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

func rejected(op, href string, resp *response) *RemoteError {
	return &RemoteError{Class: ClassRejected, Op: op, Href: href, Status: resp.status, Body: truncateBody(resp.body)}
}

// Ping checks connectivity and credentials by listing labels with max_results=1.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, c.orgPath("/labels?max_results=1"))
	if err != nil {
		return err
	}
	if !resp.ok() {
		return &RemoteError{Class: ClassUnreachable, Op: "ping", Href: c.cfg.BaseURL, Status: resp.status, Body: truncateBody(resp.body)}
	}
	return nil
}
