// Package client provides the HTTP client for the Lorem Picsum catalog:
// paged metadata listing and raw image byte downloads.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/picsum-client/pkg/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for catalog requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picsum_requests_total",
		Help: "Total catalog requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "picsum_request_duration_seconds",
		Help:    "Catalog request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "picsum_errors_total",
		Help: "Total catalog errors by class",
	}, []string{"class"})
)

// Endpoint labels. Image URLs are unbounded so they share one label.
const (
	endpointList  = "/v2/list"
	endpointImage = "image"
)

const (
	// DefaultBaseURL is the public Lorem Picsum catalog.
	DefaultBaseURL = "https://picsum.photos"

	// DefaultUserAgent is sent when no User-Agent is configured.
	DefaultUserAgent = "picsum-client/0.1.0"
)

// Client talks to the catalog listing endpoint and image byte endpoint.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalog, without trailing slash.
	BaseURL string

	// UserAgent header sent on every request.
	UserAgent string

	// Timeout bounds a single HTTP exchange including the body read.
	Timeout time.Duration

	// HTTPClient overrides the transport (for testing). Timeout is ignored
	// when set.
	HTTPClient *http.Client
}

// DefaultConfig returns the configuration for the public catalog.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     log.With().Str("component", "picsum-client").Logger(),
	}, nil
}

// BaseURL returns the normalized catalog base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// do executes a GET request and returns the response body. wantStatus is the
// only accepted status; zero accepts any 2xx.
func (c *Client) do(ctx context.Context, endpoint, rawURL, accept string, wantStatus int) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", accept)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", rawURL).
		Msg("Executing catalog request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, c.fail(&Error{Class: ErrorClassNetwork, URL: rawURL, Err: err})
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	accepted := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if wantStatus != 0 {
		accepted = resp.StatusCode == wantStatus
	}
	if !accepted {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, c.fail(&Error{
			Class:      ErrorClassHTTPStatus,
			StatusCode: resp.StatusCode,
			URL:        rawURL,
		})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(&Error{Class: ErrorClassNetwork, StatusCode: resp.StatusCode, URL: rawURL, Err: err})
	}

	return body, nil
}

// fail records metrics and logs for a classified error.
func (c *Client) fail(e *Error) error {
	errorsTotal.WithLabelValues(string(e.Class)).Inc()

	event := c.logger.Warn()
	if errors.Is(e.Err, context.Canceled) {
		event = c.logger.Debug()
	}
	event.
		Str("url", e.URL).
		Int("status", e.StatusCode).
		Str("error_class", string(e.Class)).
		Err(e.Err).
		Msg("Catalog request failed")

	return e
}

// ListURL returns the listing URL for a 1-indexed page with a page-local limit.
func (c *Client) ListURL(page, limit int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return c.config.BaseURL + endpointList + "?" + q.Encode()
}

// FetchPage fetches and decodes one page of the metadata listing.
func (c *Client) FetchPage(ctx context.Context, page, limit int) ([]metadata.Record, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1 (got %d)", page)
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be >= 1 (got %d)", limit)
	}

	listURL := c.ListURL(page, limit)
	body, err := c.do(ctx, endpointList, listURL, "application/json", http.StatusOK)
	if err != nil {
		return nil, err
	}

	var records []metadata.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, c.fail(&Error{Class: ErrorClassDecode, StatusCode: http.StatusOK, URL: listURL, Err: err})
	}

	c.logger.Debug().
		Int("page", page).
		Int("limit", limit).
		Int("count", len(records)).
		Msg("Decoded listing page")

	return records, nil
}

// GetBytes downloads the raw bytes at rawURL. An empty body is an error.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := c.do(ctx, endpointImage, rawURL, "image/*", 0)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, c.fail(&Error{Class: ErrorClassDecode, StatusCode: http.StatusOK, URL: rawURL, Err: errors.New("empty payload")})
	}
	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
