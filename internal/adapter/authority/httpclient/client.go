// Package httpclient talks to a remote authority server. Every call goes
// through a rate limiter and a circuit breaker; failures surface as
// domain.ErrAuthorityUnavailable so callers can degrade.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"setupwiz/internal/adapter/authority/wire"
	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/metrics"
	"setupwiz/internal/infra/tracer"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
	defaultTimeout       time.Duration = 10 * time.Second
)

const maxBodyBytes = 4 << 20

// Client implements the resume and version authorities, the config
// validator and the installation status source over HTTP.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMetrics records call latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New builds a client from the authority config.
func New(cfg config.AuthorityConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, domain.NewDomainError("httpclient.New", domain.ErrInvalidInput, "authority base_url is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.RateBurst, 1)

	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Transport: newPooledTransport(timeout), Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: newBreaker(cfg.Breaker, logger),
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func newBreaker(cfg config.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "authority",
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A rejected request is an answer from a healthy server.
		IsSuccessful: func(err error) bool {
			var ae *apiError
			return err == nil || (errors.As(err, &ae) && ae.status < 500)
		},
	})
}

func newPooledTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// State returns the breaker state for diagnostics.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	status int
	body   wire.ErrorBody
}

func (e *apiError) Error() string {
	if e.body.Error != "" {
		return fmt.Sprintf("authority returned %d: %s", e.status, e.body.Error)
	}
	return fmt.Sprintf("authority returned %d", e.status)
}

// call performs one request and decodes the JSON answer into out, which may
// be nil. op names the span, the metric and the error.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	start := time.Now()
	_, err := tracer.Do(ctx, "authority."+op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, method, path, in, out)
	}, tracer.StringAttr("http.method", method), tracer.StringAttr("http.path", path))
	c.metrics.ObserveAuthority(op, start, err)
	if err != nil {
		c.logger.Debug("authority call failed", "op", op, "error", err)
		return classify("httpclient."+op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			ae := &apiError{status: resp.StatusCode}
			_ = json.Unmarshal(raw, &ae.body)
			return nil, ae
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify maps transport and server errors onto the domain taxonomy.
func classify(op string, err error) error {
	var ae *apiError
	if !errors.As(err, &ae) {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Unavailable(op, fmt.Errorf("circuit open: %w", err))
		}
		return domain.Unavailable(op, err)
	}

	switch {
	case ae.status == http.StatusNotFound:
		switch ae.body.Code {
		case domain.CodeCheckpointNotFound:
			return domain.NewSubSystemError("checkpoint", op, domain.ErrNotFound, ae.body.Error)
		case domain.CodeVersionNotFound:
			return domain.NewSubSystemError("versioning", op, domain.ErrNotFound, ae.body.Error)
		}
		return domain.NewDomainError(op, domain.ErrNotFound, ae.body.Error)
	case ae.status == http.StatusConflict && ae.body.Code == domain.CodeOperationInFlight:
		return domain.NewDomainError(op, domain.ErrOperationInFlight, ae.body.Error)
	case ae.status == http.StatusUnauthorized || ae.status == http.StatusForbidden:
		// Misconfigured token; the wizard degrades as if the server were down.
		return domain.Unavailable(op, ae)
	case ae.status < 500:
		return domain.NewDomainError(op, domain.ErrInvalidInput, ae.body.Error)
	default:
		return domain.Unavailable(op, ae)
	}
}
