package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
)

const healthCacheTTL = 60 * time.Second

// healthCache caches a single isAvailable() result for a bounded window so
// repeated capability calls don't each pay a live health check, per spec
// §4.2: "a single isAvailable() is cached for 60 seconds; failures do not
// poison the cache beyond that window."
type healthCache struct {
	mu       sync.Mutex
	checked  time.Time
	result   Availability
	hasValue bool
}

func (h *healthCache) get(ctx context.Context, c Client) Availability {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasValue && time.Since(h.checked) < healthCacheTTL {
		return h.result
	}
	h.result = c.IsAvailable(ctx)
	h.checked = time.Now()
	h.hasValue = true
	return h.result
}

// Composite routes a capability call to a primary provider, falling back to
// a secondary on a retryable failure (after the primary's own retries
// exhaust) or a not_found when the primary is known to have narrower
// coverage. The composite exposes itself as "primary/fallback". Which of the
// two providers served a given call is not exposed to callers, so the audit
// trail the Refresh Manager writes records that combined name.
type Composite struct {
	primary      Client
	fallback     Client
	primaryHC    *healthCache
	fallbackHC   *healthCache
	cooldown     time.Duration
	mu           sync.Mutex
	fallbackDown time.Time
}

// NewComposite builds a primary+fallback router. cooldown is the minimum
// time to wait before re-trying a fallback marked unavailable (spec §4.2).
func NewComposite(primary, fallback Client, cooldown time.Duration) *Composite {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Composite{
		primary:    primary,
		fallback:   fallback,
		primaryHC:  &healthCache{},
		fallbackHC: &healthCache{},
		cooldown:   cooldown,
	}
}

func (c *Composite) Name() string { return c.primary.Name() + "/" + c.fallback.Name() }

func (c *Composite) Capabilities() map[domain.DataType]bool {
	caps := make(map[domain.DataType]bool)
	for dt, ok := range c.primary.Capabilities() {
		if ok {
			caps[dt] = true
		}
	}
	for dt, ok := range c.fallback.Capabilities() {
		if ok {
			caps[dt] = true
		}
	}
	return caps
}

func (c *Composite) IsAvailable(ctx context.Context) Availability {
	return c.primaryHC.get(ctx, c.primary)
}

func (c *Composite) fallbackAvailable(ctx context.Context) bool {
	c.mu.Lock()
	downUntil := c.fallbackDown
	c.mu.Unlock()
	if !downUntil.IsZero() && time.Now().Before(downUntil) {
		return false
	}
	return c.fallbackHC.get(ctx, c.fallback).Available
}

func (c *Composite) markFallbackDown() {
	c.mu.Lock()
	c.fallbackDown = time.Now().Add(c.cooldown)
	c.mu.Unlock()
}

// shouldFailover decides, per spec §4.2, whether a primary failure should
// trigger a fallback attempt.
func shouldFailover(err error) bool {
	var failure *domain.ProviderFailure
	if errors.As(err, &failure) {
		return failure.Kind.Retryable() || failure.Kind == domain.ErrNotFound
	}
	return true
}

// route runs primaryOp; on a failover-eligible error it tries fallbackOp if
// the fallback isn't in cooldown, recording which source actually served
// the request via sourceOut.
func composeRoute[T any](ctx context.Context, c *Composite, sourceOut *string,
	primaryOp func(context.Context) (T, error), fallbackOp func(context.Context) (T, error)) (T, error) {
	result, err := primaryOp(ctx)
	if err == nil {
		*sourceOut = c.primary.Name()
		return result, nil
	}
	if !shouldFailover(err) {
		return result, err
	}
	if !c.fallbackAvailable(ctx) {
		return result, err
	}
	fbResult, fbErr := fallbackOp(ctx)
	if fbErr != nil {
		var failure *domain.ProviderFailure
		if errors.As(fbErr, &failure) && failure.Kind.MarksUnavailable() {
			c.markFallbackDown()
		}
		return fbResult, err
	}
	*sourceOut = c.fallback.Name()
	return fbResult, nil
}

func (c *Composite) FetchPriceData(ctx context.Context, symbol string, q PriceQuery) ([]domain.DailyBar, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) ([]domain.DailyBar, error) { return c.primary.FetchPriceData(ctx, symbol, q) },
		func(ctx context.Context) ([]domain.DailyBar, error) { return c.fallback.FetchPriceData(ctx, symbol, q) })
}

func (c *Composite) FetchIntradayData(ctx context.Context, symbol string, q PriceQuery) ([]domain.IntradayBar, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) ([]domain.IntradayBar, error) { return c.primary.FetchIntradayData(ctx, symbol, q) },
		func(ctx context.Context) ([]domain.IntradayBar, error) { return c.fallback.FetchIntradayData(ctx, symbol, q) })
}

func (c *Composite) FetchCurrentPrice(ctx context.Context, symbol string) (*CurrentPrice, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) (*CurrentPrice, error) { return c.primary.FetchCurrentPrice(ctx, symbol) },
		func(ctx context.Context) (*CurrentPrice, error) { return c.fallback.FetchCurrentPrice(ctx, symbol) })
}

func (c *Composite) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) (*domain.FundamentalsSnapshot, error) { return c.primary.FetchFundamentals(ctx, symbol) },
		func(ctx context.Context) (*domain.FundamentalsSnapshot, error) { return c.fallback.FetchFundamentals(ctx, symbol) })
}

func (c *Composite) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) ([]domain.EarningsRecord, error) { return c.primary.FetchEarnings(ctx, symbol) },
		func(ctx context.Context) ([]domain.EarningsRecord, error) { return c.fallback.FetchEarnings(ctx, symbol) })
}

func (c *Composite) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) ([]domain.EarningsRecord, error) {
			return c.primary.FetchEarningsCalendar(ctx, symbols, from, to)
		},
		func(ctx context.Context) ([]domain.EarningsRecord, error) {
			return c.fallback.FetchEarningsCalendar(ctx, symbols, from, to)
		})
}

func (c *Composite) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) ([]domain.NewsArticle, error) { return c.primary.FetchNews(ctx, symbol, limit) },
		func(ctx context.Context) ([]domain.NewsArticle, error) { return c.fallback.FetchNews(ctx, symbol, limit) })
}

func (c *Composite) FetchIndustryPeers(ctx context.Context, symbol string) (*IndustryPeers, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) (*IndustryPeers, error) { return c.primary.FetchIndustryPeers(ctx, symbol) },
		func(ctx context.Context) (*IndustryPeers, error) { return c.fallback.FetchIndustryPeers(ctx, symbol) })
}

func (c *Composite) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*FinancialStatements, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) (*FinancialStatements, error) {
			return c.primary.FetchFinancialStatements(ctx, symbol, quarterly)
		},
		func(ctx context.Context) (*FinancialStatements, error) {
			return c.fallback.FetchFinancialStatements(ctx, symbol, quarterly)
		})
}

func (c *Composite) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) ([]domain.CorporateAction, error) { return c.primary.FetchActions(ctx, symbol) },
		func(ctx context.Context) ([]domain.CorporateAction, error) { return c.fallback.FetchActions(ctx, symbol) })
}

func (c *Composite) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	var source string
	return composeRoute(ctx, c, &source,
		func(ctx context.Context) (map[string]any, error) { return c.primary.FetchSymbolDetails(ctx, symbol) },
		func(ctx context.Context) (map[string]any, error) { return c.fallback.FetchSymbolDetails(ctx, symbol) })
}

var _ Client = (*Composite)(nil)
