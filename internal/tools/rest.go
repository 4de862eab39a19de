package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rofergon/Hedron/internal/cache"
	"github.com/rofergon/Hedron/internal/shared"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// errRetryable marks upstream failures worth another attempt.
var errRetryable = errors.New("retryable upstream error")

// RESTClient performs cached, rate-limited JSON GETs. Concurrent requests
// for the same URL share one upstream call.
type RESTClient struct {
	http       *http.Client
	limiter    *rate.Limiter
	group      singleflight.Group
	cache      cache.Cache
	ttl        time.Duration
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// RESTConfig tunes a RESTClient.
type RESTConfig struct {
	RatePerSecond float64
	CacheTTL      time.Duration
	Timeout       time.Duration
	MaxRetries    int
}

// NewRESTClient creates a client backed by c. A nil cache disables caching.
func NewRESTClient(cfg RESTConfig, c cache.Cache, logger *slog.Logger) *RESTClient {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RESTClient{
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		cache:      c,
		ttl:        cfg.CacheTTL,
		maxRetries: cfg.MaxRetries,
		baseDelay:  200 * time.Millisecond,
		logger:     logger,
	}
}

// GetJSON fetches url and returns the raw body, from cache when fresh.
func (c *RESTClient) GetJSON(ctx context.Context, url string, headers map[string]string) (json.RawMessage, error) {
	return c.getJSON(ctx, url, headers, c.cache != nil && c.ttl > 0)
}

func (c *RESTClient) getJSON(ctx context.Context, url string, headers map[string]string, cached bool) (json.RawMessage, error) {
	if cached {
		if body, ok, err := c.cache.Get(ctx, url); err != nil {
			c.logger.Warn("cache read failed", "url", url, "error", err)
		} else if ok {
			return body, nil
		}
	}

	v, err, _ := c.group.Do(url, func() (any, error) {
		body, err := c.fetchWithRetry(ctx, url, headers)
		if err != nil {
			return nil, err
		}
		if cached {
			if err := c.cache.Set(ctx, url, body, c.ttl); err != nil {
				c.logger.Warn("cache write failed", "url", url, "error", err)
			}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(v.([]byte)), nil
}

// Get decodes the JSON body at url into out.
func (c *RESTClient) Get(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.GetJSON(ctx, url, headers)
	if err != nil {
		return err
	}
	return decodeBody(url, body, out)
}

// GetFresh is Get without the cache, for state that changes between turns.
func (c *RESTClient) GetFresh(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.getJSON(ctx, url, headers, false)
	if err != nil {
		return err
	}
	return decodeBody(url, body, out)
}

func decodeBody(url string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (c *RESTClient) fetchWithRetry(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var err error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := shared.Backoff(c.baseDelay, i-1, 5*time.Second)
			c.logger.Debug("retrying upstream request", "url", url, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		var body []byte
		body, err = c.fetch(ctx, url, headers)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, errRetryable) {
			return nil, err
		}
	}
	return nil, err
}

func (c *RESTClient) fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: GET %s: %v", errRetryable, url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", errRetryable, url, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: GET %s: status %d", errRetryable, url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return body, nil
}
