// Package provider defines the uniform provider contract (C1) every
// market-data source implements, plus the cross-cutting rate limiting,
// retry, and registry/composite routing wrappers (C2) built around it.
package provider

import (
	"context"
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
)

// PriceQuery selects either a named period ("1y", "6mo", ...) or an
// explicit [Start,End] window for fetchPriceData.
type PriceQuery struct {
	Start    time.Time
	End      time.Time
	Period   string
	Interval string
}

// CurrentPrice is the result of fetchCurrentPrice.
type CurrentPrice struct {
	Price  float64
	Volume *int64
}

// IndustryPeers is the result of fetchIndustryPeers.
type IndustryPeers struct {
	Sector   *string
	Industry *string
	Peers    []PeerRef
}

// PeerRef is one entry of the peers list.
type PeerRef struct {
	Symbol   string
	Sector   string
	Industry string
}

// FinancialStatements is the result of fetchFinancialStatements.
type FinancialStatements struct {
	Periodicity     string
	IncomeStatement []domain.FinancialStatement
	BalanceSheet    []domain.FinancialStatement
	CashFlow        []domain.FinancialStatement
}

// Availability is the result of isAvailable.
type Availability struct {
	LastError error
	Available bool
}

// Client is the uniform capability set every provider implements (spec §4.1).
// Every operation returns a *domain.ProviderFailure on error so callers can
// classify and react (retry, fail over, mark unavailable).
type Client interface {
	Name() string
	FetchPriceData(ctx context.Context, symbol string, q PriceQuery) ([]domain.DailyBar, error)
	FetchIntradayData(ctx context.Context, symbol string, q PriceQuery) ([]domain.IntradayBar, error)
	FetchCurrentPrice(ctx context.Context, symbol string) (*CurrentPrice, error)
	FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error)
	FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error)
	FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error)
	FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error)
	FetchIndustryPeers(ctx context.Context, symbol string) (*IndustryPeers, error)
	FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*FinancialStatements, error)
	FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error)
	FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error)
	IsAvailable(ctx context.Context) Availability
	// Capabilities reports which fetch operations this provider supports,
	// keyed by domain.DataType. The registry and composite only route
	// capabilities a provider declares.
	Capabilities() map[domain.DataType]bool
}

// Config is the recognised provider configuration (spec §4.1).
type Config struct {
	APIKey           string
	BaseURL          string
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	RateLimitCalls   int
	RateLimitWindow  time.Duration
	Enabled          bool
	Priority         int
}

// NormalizeDailyBar applies spec §4.1 item 3: UTC timestamps, adj_close
// defaults to close, NaN/Inf fields are left to the caller to drop (callers
// use math.IsNaN/IsInf before constructing the bar).
func NormalizeDailyBar(b domain.DailyBar) domain.DailyBar {
	b.Date = b.Date.UTC()
	if b.AdjClose == 0 {
		b.AdjClose = b.Close
	}
	return b
}
