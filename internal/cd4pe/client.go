package cd4pe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/cd4pe-agent/internal/config"
	"github.com/mattjoyce/cd4pe-agent/internal/log"
)

const (
	// MaxAttempts bounds how many times one logical request is sent.
	MaxAttempts = 3

	// RetryDelay is the fixed pause between attempts after a 5xx. The server
	// side expects this cadence, so there is no backoff or jitter.
	RetryDelay = 3 * time.Second

	defaultHTTPTimeout = 60 * time.Second
)

// Verb is an HTTP method accepted by Send.
type Verb string

const (
	GET    Verb = http.MethodGet
	POST   Verb = http.MethodPost
	PUT    Verb = http.MethodPut
	DELETE Verb = http.MethodDelete
)

func (v Verb) valid() bool {
	switch v {
	case GET, POST, PUT, DELETE:
		return true
	}
	return false
}

func (v Verb) hasBody() bool {
	return v == POST || v == PUT
}

// Doer is the HTTP capability the client needs. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one CD4PE service on behalf of one deployment or job.
type Client struct {
	cfg        config.DeploymentConfig
	doer       Doer
	logger     *slog.Logger
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithHTTPTimeout sets the per-attempt timeout of the default transport.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.doer = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleeper replaces the function used to wait between attempts.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New creates a Client for cfg.
func New(cfg config.DeploymentConfig, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		doer:       &http.Client{Timeout: defaultHTTPTimeout},
		logger:     log.WithComponent("cd4pe"),
		retryDelay: RetryDelay,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the deployment configuration the client was built with.
func (c *Client) Config() config.DeploymentConfig {
	return c.cfg
}

// Send issues verb against path (relative to the service URL), JSON-encoding
// payload as the body for POST and PUT. See the package documentation for
// the retry policy.
func (c *Client) Send(ctx context.Context, verb Verb, path string, payload any) (*Response, error) {
	if !verb.valid() {
		return nil, &InvalidVerbError{Verb: verb}
	}

	var body []byte
	if verb.hasBody() && payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request payload: %w", err)
		}
		body = b
	}

	service := c.cfg.ServiceURL()
	target := service + path

	for attempt := 1; ; attempt++ {
		c.logger.Debug("requesting", "verb", string(verb), "path", path, "attempt", attempt)

		resp, err := c.roundTrip(ctx, verb, target, body)
		if err != nil {
			return nil, err
		}

		if resp.Class != ClassServerError {
			return resp, nil
		}

		if attempt >= MaxAttempts {
			return nil, &ServerExhaustedError{
				Service:    service,
				Attempts:   attempt,
				StatusCode: resp.StatusCode,
				Body:       string(resp.Body),
			}
		}

		c.logger.Debug("received server error, retrying",
			"status", resp.StatusCode,
			"service", service,
			"attempt", attempt,
			"max_attempts", MaxAttempts,
		)
		if err := c.sleep(ctx, c.retryDelay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, verb Verb, target string, body []byte) (*Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, string(verb), target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token "+c.cfg.Token)

	httpResp, err := c.doer.Do(req)
	if err != nil {
		return nil, &ConnectionError{Service: c.cfg.ServiceURL(), Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ConnectionError{Service: c.cfg.ServiceURL(), Err: fmt.Errorf("read response body: %w", err)}
	}

	return &Response{
		Class:      Classify(httpResp.StatusCode),
		StatusCode: httpResp.StatusCode,
		Body:       data,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
