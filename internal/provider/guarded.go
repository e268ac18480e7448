package provider

import (
	"context"
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
)

// Guarded wraps any Client with the cross-cutting mechanisms spec §4.1
// mandates for every operation: rate limiting (token bucket) then retry
// (exponential backoff). This is the production entrypoint — concrete
// provider clients (alphavantage, yahoo) stay free of this plumbing and are
// always constructed wrapped in a Guarded.
type Guarded struct {
	inner   Client
	bucket  *tokenBucket
	retry   retryConfig
}

// NewGuarded wraps a Client with rate limiting and retries per cfg.
func NewGuarded(inner Client, cfg Config) *Guarded {
	calls := cfg.RateLimitCalls
	if calls <= 0 {
		calls = 5
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Guarded{
		inner:  inner,
		bucket: newTokenBucket(calls, window),
		retry:  retryConfig{MaxRetries: cfg.MaxRetries, BaseDelay: delay},
	}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Capabilities() map[domain.DataType]bool { return g.inner.Capabilities() }

func (g *Guarded) IsAvailable(ctx context.Context) Availability { return g.inner.IsAvailable(ctx) }

func guardedCall[T any](g *Guarded, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.bucket.Acquire(ctx); err != nil {
		return zero, err
	}
	return withRetry(ctx, g.retry, op)
}

func (g *Guarded) FetchPriceData(ctx context.Context, symbol string, q PriceQuery) ([]domain.DailyBar, error) {
	return guardedCall(g, ctx, func(ctx context.Context) ([]domain.DailyBar, error) {
		return g.inner.FetchPriceData(ctx, symbol, q)
	})
}

func (g *Guarded) FetchIntradayData(ctx context.Context, symbol string, q PriceQuery) ([]domain.IntradayBar, error) {
	return guardedCall(g, ctx, func(ctx context.Context) ([]domain.IntradayBar, error) {
		return g.inner.FetchIntradayData(ctx, symbol, q)
	})
}

func (g *Guarded) FetchCurrentPrice(ctx context.Context, symbol string) (*CurrentPrice, error) {
	return guardedCall(g, ctx, func(ctx context.Context) (*CurrentPrice, error) {
		return g.inner.FetchCurrentPrice(ctx, symbol)
	})
}

func (g *Guarded) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return guardedCall(g, ctx, func(ctx context.Context) (*domain.FundamentalsSnapshot, error) {
		return g.inner.FetchFundamentals(ctx, symbol)
	})
}

func (g *Guarded) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return guardedCall(g, ctx, func(ctx context.Context) ([]domain.EarningsRecord, error) {
		return g.inner.FetchEarnings(ctx, symbol)
	})
}

func (g *Guarded) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return guardedCall(g, ctx, func(ctx context.Context) ([]domain.EarningsRecord, error) {
		return g.inner.FetchEarningsCalendar(ctx, symbols, from, to)
	})
}

func (g *Guarded) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return guardedCall(g, ctx, func(ctx context.Context) ([]domain.NewsArticle, error) {
		return g.inner.FetchNews(ctx, symbol, limit)
	})
}

func (g *Guarded) FetchIndustryPeers(ctx context.Context, symbol string) (*IndustryPeers, error) {
	return guardedCall(g, ctx, func(ctx context.Context) (*IndustryPeers, error) {
		return g.inner.FetchIndustryPeers(ctx, symbol)
	})
}

func (g *Guarded) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*FinancialStatements, error) {
	return guardedCall(g, ctx, func(ctx context.Context) (*FinancialStatements, error) {
		return g.inner.FetchFinancialStatements(ctx, symbol, quarterly)
	})
}

func (g *Guarded) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	return guardedCall(g, ctx, func(ctx context.Context) ([]domain.CorporateAction, error) {
		return g.inner.FetchActions(ctx, symbol)
	})
}

func (g *Guarded) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return guardedCall(g, ctx, func(ctx context.Context) (map[string]any, error) {
		return g.inner.FetchSymbolDetails(ctx, symbol)
	})
}

var _ Client = (*Guarded)(nil)
