// Package target speaks the HTTP surface of the service under test: the
// health probe, sample payload negotiation, and the transform endpoint the
// load is aimed at. The bench driver only ever sees *http.Client values and
// request factories, never URLs or payload wiring.
package target

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Options configures the target boundary. Zero fields take the defaults of
// a local transformation service on port 3000.
type Options struct {
	BaseURL        string
	TransformPath  string
	HealthPath     string
	SamplePath     string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	HealthTimeout  time.Duration
	ForceClose     bool
	Auth           Authenticator
}

// Client issues target-API calls and builds the per-batch HTTP clients the
// driver hands to its workers.
type Client struct {
	opts   Options
	logger *zap.Logger

	// Set once by ResolvePayload before any load is dispatched.
	body []byte
}

func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:3000"
	}
	if opts.TransformPath == "" {
		opts.TransformPath = "/transform/mt-to-mx"
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.SamplePath == "" {
		opts.SamplePath = "/generate/sample"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 2 * time.Second
	}
	return &Client{opts: opts, logger: logger}
}

// NewHTTPClient builds a fresh client scoped to one batch at the given
// concurrency. The pool is sized to the bound so workers never queue on
// idle-connection churn, and capped at twice the bound overall.
func (c *Client) NewHTTPClient(concurrency int) *http.Client {
	if concurrency < 1 {
		concurrency = 1
	}
	dialer := &net.Dialer{
		Timeout:   c.opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          concurrency,
		MaxIdleConnsPerHost:   concurrency,
		MaxConnsPerHost:       concurrency * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: c.opts.RequestTimeout,
	}
	if c.opts.ForceClose {
		transport.DisableKeepAlives = true
	}
	return &http.Client{
		Timeout:   c.opts.RequestTimeout,
		Transport: transport,
	}
}

// TransformRequest builds one POST against the transform endpoint carrying
// the resolved payload. Safe to call from many goroutines once the payload
// is resolved.
func (c *Client) TransformRequest(ctx context.Context) (*http.Request, error) {
	body := c.body
	if body == nil {
		return nil, fmt.Errorf("target: payload not resolved, call ResolvePayload first")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.TransformPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("target: build transform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.ForceClose {
		req.Header.Set("Connection", "close")
	}
	if c.opts.Auth != nil {
		if err := c.opts.Auth.Apply(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Health probes the target once within the health budget. A run refuses to
// start while this returns an error.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+c.opts.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("target: build health request: %w", err)
	}
	httpClient := &http.Client{Timeout: c.opts.HealthTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("target: health probe %s: %w", c.opts.BaseURL+c.opts.HealthPath, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("target: unhealthy, health returned status %d", resp.StatusCode)
	}
	return nil
}

// BaseURL reports the configured target base.
func (c *Client) BaseURL() string { return c.opts.BaseURL }
