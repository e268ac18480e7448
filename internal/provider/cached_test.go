package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider/respcache"
)

// fakeClient lets each test script a canned response or error per call,
// tracked by call count so a test can simulate "succeeds once, then fails".
type fakeClient struct {
	priceData func(call int) ([]domain.DailyBar, error)
	current   func(call int) (*CurrentPrice, error)
	calls     int
}

func (f *fakeClient) Name() string                                { return "fake" }
func (f *fakeClient) Capabilities() map[domain.DataType]bool      { return nil }
func (f *fakeClient) IsAvailable(ctx context.Context) Availability { return Availability{Available: true} }

func (f *fakeClient) FetchPriceData(ctx context.Context, symbol string, q PriceQuery) ([]domain.DailyBar, error) {
	f.calls++
	return f.priceData(f.calls)
}
func (f *fakeClient) FetchCurrentPrice(ctx context.Context, symbol string) (*CurrentPrice, error) {
	f.calls++
	return f.current(f.calls)
}
func (f *fakeClient) FetchIntradayData(ctx context.Context, symbol string, q PriceQuery) ([]domain.IntradayBar, error) {
	return nil, nil
}
func (f *fakeClient) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return nil, nil
}
func (f *fakeClient) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return nil, nil
}
func (f *fakeClient) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return nil, nil
}
func (f *fakeClient) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return nil, nil
}
func (f *fakeClient) FetchIndustryPeers(ctx context.Context, symbol string) (*IndustryPeers, error) {
	return nil, nil
}
func (f *fakeClient) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*FinancialStatements, error) {
	return nil, nil
}
func (f *fakeClient) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	return nil, nil
}
func (f *fakeClient) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return nil, nil
}

func newTestRespCache(t *testing.T) *respcache.Cache {
	t.Helper()
	path := t.TempDir() + "/respcache.db"
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileCache, Name: "respcache"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return respcache.New(db)
}

func TestCached_FetchPriceData_FallsBackToStaleOnOutage(t *testing.T) {
	cache := newTestRespCache(t)
	bars := []domain.DailyBar{{Symbol: "AAPL", Close: 100}}
	inner := &fakeClient{priceData: func(call int) ([]domain.DailyBar, error) {
		if call == 1 {
			return bars, nil
		}
		return nil, domain.NewProviderFailure("fake", "price_data", domain.ErrUpstream5xx, nil)
	}}
	c := NewCached(inner, cache, nil)
	ctx := context.Background()
	q := PriceQuery{Period: "1y"}

	got, err := c.FetchPriceData(ctx, "AAPL", q)
	require.NoError(t, err)
	assert.Equal(t, bars, got)

	got, err = c.FetchPriceData(ctx, "AAPL", q)
	require.NoError(t, err)
	assert.Equal(t, bars, got, "second call should serve the stale cached response instead of the error")
}

func TestCached_FetchPriceData_NonFailoverErrorPropagates(t *testing.T) {
	cache := newTestRespCache(t)
	inner := &fakeClient{priceData: func(call int) ([]domain.DailyBar, error) {
		return nil, domain.NewProviderFailure("fake", "price_data", domain.ErrUnauthorized, nil)
	}}
	c := NewCached(inner, cache, nil)

	_, err := c.FetchPriceData(context.Background(), "AAPL", PriceQuery{Period: "1y"})
	assert.Error(t, err)
}

type fakeLiveQuote struct {
	connected bool
	price     CurrentPrice
	has       bool
}

func (f *fakeLiveQuote) Connected() bool { return f.connected }
func (f *fakeLiveQuote) Get(symbol string) (CurrentPrice, bool) { return f.price, f.has }

func TestCached_FetchCurrentPrice_PrefersLiveQuoteWhenConnected(t *testing.T) {
	cache := newTestRespCache(t)
	inner := &fakeClient{current: func(call int) (*CurrentPrice, error) {
		t.Fatal("inner client should not be called when live quote serves the price")
		return nil, nil
	}}
	live := &fakeLiveQuote{connected: true, has: true, price: CurrentPrice{Price: 42}}
	c := NewCached(inner, cache, live)

	got, err := c.FetchCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Price)
}

func TestCached_FetchCurrentPrice_FallsThroughWhenLiveQuoteMisses(t *testing.T) {
	cache := newTestRespCache(t)
	inner := &fakeClient{current: func(call int) (*CurrentPrice, error) {
		return &CurrentPrice{Price: 7}, nil
	}}
	live := &fakeLiveQuote{connected: true, has: false}
	c := NewCached(inner, cache, live)

	got, err := c.FetchCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Price)
}
