// Package client provides a CRM REST client that serves GET requests from
// the response cache and keeps the cache consistent after mutations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/crm-cache/pkg/cache"
	"github.com/Sternrassler/crm-cache/pkg/entry"
	"github.com/Sternrassler/crm-cache/pkg/logging"
	"github.com/Sternrassler/crm-cache/pkg/storage"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// Client is the CRM API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cache      *cache.Cache
	results    *storage.Chain
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the CRM API, e.g. "https://crm.example.com"
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// HTTPTimeout bounds a single attempt (default: 30s)
	HTTPTimeout time.Duration

	// Cache for GET responses (REQUIRED)
	Cache *cache.Cache

	// Results stores named results across reloads (optional)
	Results *storage.Chain

	// Retry overrides the per-class retry schedule when MaxAttempts > 0
	Retry RetryConfig

	// Logger (default: component logger "crm-client")
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig(baseURL, userAgent string, responseCache *cache.Cache) Config {
	return Config{
		BaseURL:     baseURL,
		UserAgent:   userAgent,
		HTTPTimeout: 30 * time.Second,
		Cache:       responseCache,
	}
}

// Response is a CRM API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage

	// Cached is true when the body was served from the response cache
	Cached bool
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// New creates a new CRM client.
func New(cfg Config) (*Client, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("response cache is required")
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		baseURL: baseURL,
		cache:   cfg.Cache,
		results: cfg.Results,
		config:  cfg,
		logger:  logging.Or(cfg.Logger, "crm-client"),
	}, nil
}

// Get performs a GET request, answering from the response cache when a live
// entry exists. Successful JSON responses are cached for the lifetime their
// Cache-Control or Expires headers allow, or the cache default.
func (c *Client) Get(ctx context.Context, path string, params map[string]any) (*Response, error) {
	key := cache.GenerateKey(path, http.MethodGet, params, nil)

	if data, ok := c.cache.Get(ctx, key); ok {
		crmRequestsTotal.WithLabelValues(endpointOf(path), "cache_hit").Inc()
		return &Response{StatusCode: http.StatusOK, Body: data, Cached: true}, nil
	}

	resp, err := c.execute(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}

	ttl, cacheable := responseTTL(resp.Header, time.Now())
	if cacheable && len(resp.Body) > 0 && json.Valid(resp.Body) {
		if err := c.cache.Set(ctx, key, resp.Body, ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("key", key).
				Dur("ttl", ttl).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// Do performs a request with any method. GET requests go through Get.
// A successful mutation invalidates every cached response of the affected
// collection, e.g. POST /api/contacts/42 drops GET /api/contacts and
// GET /api/contacts/42.
func (c *Client) Do(ctx context.Context, method, path string, params map[string]any, body any) (*Response, error) {
	method = strings.ToUpper(method)
	if method == "" || method == http.MethodGet {
		return c.Get(ctx, path, params)
	}

	resp, err := c.execute(ctx, method, path, params, body)
	if err != nil {
		return nil, err
	}

	if method != http.MethodHead && method != http.MethodOptions {
		c.invalidateCollection(ctx, method, path)
	}
	return resp, nil
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// SaveResult stores a named result (a filter, a dashboard snapshot) in the
// result storage chain.
func (c *Client) SaveResult(ctx context.Context, name string, data any, ttl time.Duration) error {
	if c.results == nil {
		return ErrNoResultStorage
	}
	return c.results.SetResult(ctx, name, data, ttl)
}

// LoadResult returns a named result from the result storage chain.
func (c *Client) LoadResult(ctx context.Context, name string) (json.RawMessage, bool) {
	if c.results == nil {
		return nil, false
	}
	return c.results.GetResult(ctx, name)
}

// Close closes idle connections. The cache and result chain are owned by
// the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// execute performs the HTTP round trip with retries.
func (c *Client) execute(ctx context.Context, method, path string, params map[string]any, body any) (*Response, error) {
	endpoint := endpointOf(path)
	reqURL := c.resolve(path, params)

	var payload []byte
	if body != nil {
		data, err := entry.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = data
	}

	startTime := time.Now()
	defer func() {
		crmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing CRM request")

	var out *Response
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return &APIError{ErrorClass: ErrorClassClient, Message: "build request", Err: err}
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return &APIError{ErrorClass: ErrorClassClient, Message: "request cancelled", Err: ctx.Err()}
			}
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			crmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			crmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			crmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
		}

		crmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			crmErrorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("CRM request error")

			return &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    resp.Status,
				Body:       data,
			}
		}

		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrContextCancelled) {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		return nil, err
	}
	return out, nil
}

// invalidateCollection drops cached responses of the collection path
// belongs to.
func (c *Client) invalidateCollection(ctx context.Context, method, path string) {
	collection := collectionOf(path)
	if collection == "" {
		return
	}

	// Keys look like METHOD|path|params; anchor on the path segment
	re := regexp.MustCompile(`\|` + regexp.QuoteMeta(collection) + `(/|\|)`)
	removed := c.cache.InvalidateByRegexp(ctx, re)
	crmInvalidationsTotal.WithLabelValues(method).Add(float64(removed))

	c.logger.Debug().
		Str("method", method).
		Str("collection", collection).
		Int("removed", removed).
		Msg("Invalidated cached collection")
}

// resolve builds the request URL from the base URL, path and params.
func (c *Client) resolve(path string, params map[string]any) string {
	u := *c.baseURL
	rawPath, rawQuery, _ := strings.Cut(path, "?")
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(rawPath, "/")

	query, _ := url.ParseQuery(rawQuery)
	for name, value := range params {
		switch v := value.(type) {
		case []string:
			query[name] = v
		case string:
			query.Set(name, v)
		default:
			query.Set(name, fmt.Sprint(v))
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// endpointOf strips the query string from path.
func endpointOf(path string) string {
	endpoint, _, _ := strings.Cut(path, "?")
	return endpoint
}

// collectionOf returns the collection a resource path belongs to. A
// trailing segment holding a digit (an id) is dropped.
func collectionOf(path string) string {
	p := strings.TrimRight(endpointOf(path), "/")
	if p == "" {
		return ""
	}
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		if strings.ContainsAny(p[i+1:], "0123456789") {
			return p[:i]
		}
	}
	return p
}
