// Package registry looks up company details in the public company registry
// by fiscal code (CUI).
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"orgchart/api/internal/metrics"
)

const cacheNamespace = "registry"

// FetchErrorMessage is recorded on the user record when enrichment fails.
const FetchErrorMessage = "Could not fetch additional company data"

var ErrLookupFailed = errors.New("company registry lookup failed")

type Cache interface {
	GetJSON(ctx context.Context, namespace, key string, target any) (bool, error)
	SetJSON(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
}

type Options struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
	Cache    Cache
	Logger   *zap.Logger
}

type Client struct {
	http     *resty.Client
	url      string
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	http := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Client{http: http, url: opts.URL, cache: opts.Cache, cacheTTL: opts.CacheTTL, logger: opts.Logger}
}

// Lookup returns the registry payload for cui as raw JSON. Successful
// answers are cached when a cache is configured.
func (c *Client) Lookup(ctx context.Context, cui string) (json.RawMessage, error) {
	cui = strings.TrimSpace(cui)
	if cui == "" {
		return nil, fmt.Errorf("%w: empty cui", ErrLookupFailed)
	}

	if c.cache != nil {
		var cached json.RawMessage
		ok, err := c.cache.GetJSON(ctx, cacheNamespace, cui, &cached)
		if err != nil {
			c.logger.Warn("registry cache read failed", zap.String("cui", cui), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("cui", cui).
		Get(c.url)
	if err != nil {
		metrics.Upstream.WithLabelValues("registry", "lookup", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if resp.IsError() {
		metrics.Upstream.WithLabelValues("registry", "lookup", "error").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode())
	}
	body := resp.Body()
	if !json.Valid(body) {
		metrics.Upstream.WithLabelValues("registry", "lookup", "error").Inc()
		return nil, fmt.Errorf("%w: response is not JSON", ErrLookupFailed)
	}
	metrics.Upstream.WithLabelValues("registry", "lookup", "ok").Inc()

	data := json.RawMessage(append([]byte(nil), body...))
	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheNamespace, cui, data, c.cacheTTL); err != nil {
			c.logger.Warn("registry cache write failed", zap.String("cui", cui), zap.Error(err))
		}
	}
	return data, nil
}

// Unavailable is the company data stored when the lookup failed.
func Unavailable(cui string, at time.Time) json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"cui":        cui,
		"fetchError": FetchErrorMessage,
		"timestamp":  at.UTC().Format(time.RFC3339Nano),
	})
	return data
}
