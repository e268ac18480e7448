package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider/respcache"
)

// priceCacheTTL is how long a stored response of any capability stays fresh
// in respcache before GetFresh starts missing (GetStale still serves it as a
// last resort after that).
const priceCacheTTL = 15 * time.Minute

// LiveQuoteSource is the subset of livequote.Cache that Cached needs.
// Declared here rather than imported, since livequote itself depends on this
// package for the CurrentPrice type.
type LiveQuoteSource interface {
	Connected() bool
	Get(symbol string) (CurrentPrice, bool)
}

// Cached wraps a Client with a respcache-backed stale-response fallback
// (spec §4.2's "outage degrades to stale data, not a hard failure") and, for
// FetchCurrentPrice, an optional livequote websocket feed consulted before
// falling through to the wrapped client. Every capability, FetchCurrentPrice
// included, gets the stale-response fallback.
type Cached struct {
	inner Client
	cache *respcache.Cache
	live  LiveQuoteSource
}

// NewCached wraps inner with cache. live may be nil when no livequote feed is
// configured.
func NewCached(inner Client, cache *respcache.Cache, live LiveQuoteSource) *Cached {
	return &Cached{inner: inner, cache: cache, live: live}
}

func (c *Cached) Name() string                                  { return c.inner.Name() }
func (c *Cached) Capabilities() map[domain.DataType]bool         { return c.inner.Capabilities() }
func (c *Cached) IsAvailable(ctx context.Context) Availability   { return c.inner.IsAvailable(ctx) }

// withStaleFallback runs fetch, stores its result under key on success, and
// on a failover-eligible error falls back to whatever stale payload respcache
// still holds for key rather than propagating the error. This is the one
// stale-cache-as-fallback shape every capability below applies; only the
// payload type and cache key vary per capability.
func withStaleFallback[T any](ctx context.Context, c *Cached, providerName, capability, key string, fetch func() (T, error)) (T, error) {
	result, err := fetch()
	if err == nil {
		_ = c.cache.Store(ctx, providerName, capability, key, result, priceCacheTTL)
		return result, nil
	}
	var zero T
	if !shouldFailover(err) {
		return zero, err
	}
	var stale T
	if ok, cerr := c.cache.GetStale(ctx, key, &stale); cerr == nil && ok {
		return stale, nil
	}
	return zero, err
}

func (c *Cached) FetchPriceData(ctx context.Context, symbol string, q PriceQuery) ([]domain.DailyBar, error) {
	key := respcache.Key(c.inner.Name(), "price_data", symbol, q.Period, q.Interval, q.Start.String(), q.End.String())
	return withStaleFallback(ctx, c, c.inner.Name(), "price_data", key, func() ([]domain.DailyBar, error) {
		return c.inner.FetchPriceData(ctx, symbol, q)
	})
}

func (c *Cached) FetchCurrentPrice(ctx context.Context, symbol string) (*CurrentPrice, error) {
	if c.live != nil && c.live.Connected() {
		if price, ok := c.live.Get(symbol); ok {
			return &price, nil
		}
	}

	key := respcache.Key(c.inner.Name(), "current_price", symbol)
	return withStaleFallback(ctx, c, c.inner.Name(), "current_price", key, func() (*CurrentPrice, error) {
		return c.inner.FetchCurrentPrice(ctx, symbol)
	})
}

func (c *Cached) FetchIntradayData(ctx context.Context, symbol string, q PriceQuery) ([]domain.IntradayBar, error) {
	key := respcache.Key(c.inner.Name(), "intraday_data", symbol, q.Period, q.Interval)
	return withStaleFallback(ctx, c, c.inner.Name(), "intraday_data", key, func() ([]domain.IntradayBar, error) {
		return c.inner.FetchIntradayData(ctx, symbol, q)
	})
}

func (c *Cached) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	key := respcache.Key(c.inner.Name(), "fundamentals", symbol)
	return withStaleFallback(ctx, c, c.inner.Name(), "fundamentals", key, func() (*domain.FundamentalsSnapshot, error) {
		return c.inner.FetchFundamentals(ctx, symbol)
	})
}

func (c *Cached) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	key := respcache.Key(c.inner.Name(), "earnings", symbol)
	return withStaleFallback(ctx, c, c.inner.Name(), "earnings", key, func() ([]domain.EarningsRecord, error) {
		return c.inner.FetchEarnings(ctx, symbol)
	})
}

func (c *Cached) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	key := respcache.Key(c.inner.Name(), "earnings_calendar", append([]string{from.String(), to.String()}, symbols...)...)
	return withStaleFallback(ctx, c, c.inner.Name(), "earnings_calendar", key, func() ([]domain.EarningsRecord, error) {
		return c.inner.FetchEarningsCalendar(ctx, symbols, from, to)
	})
}

func (c *Cached) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	key := respcache.Key(c.inner.Name(), "news", symbol, fmt.Sprint(limit))
	return withStaleFallback(ctx, c, c.inner.Name(), "news", key, func() ([]domain.NewsArticle, error) {
		return c.inner.FetchNews(ctx, symbol, limit)
	})
}

func (c *Cached) FetchIndustryPeers(ctx context.Context, symbol string) (*IndustryPeers, error) {
	key := respcache.Key(c.inner.Name(), "industry_peers", symbol)
	return withStaleFallback(ctx, c, c.inner.Name(), "industry_peers", key, func() (*IndustryPeers, error) {
		return c.inner.FetchIndustryPeers(ctx, symbol)
	})
}

func (c *Cached) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*FinancialStatements, error) {
	key := respcache.Key(c.inner.Name(), "financial_statements", symbol, fmt.Sprint(quarterly))
	return withStaleFallback(ctx, c, c.inner.Name(), "financial_statements", key, func() (*FinancialStatements, error) {
		return c.inner.FetchFinancialStatements(ctx, symbol, quarterly)
	})
}

func (c *Cached) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	key := respcache.Key(c.inner.Name(), "actions", symbol)
	return withStaleFallback(ctx, c, c.inner.Name(), "actions", key, func() ([]domain.CorporateAction, error) {
		return c.inner.FetchActions(ctx, symbol)
	})
}

func (c *Cached) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	key := respcache.Key(c.inner.Name(), "symbol_details", symbol)
	return withStaleFallback(ctx, c, c.inner.Name(), "symbol_details", key, func() (map[string]any, error) {
		return c.inner.FetchSymbolDetails(ctx, symbol)
	})
}

var _ Client = (*Cached)(nil)
