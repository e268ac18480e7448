package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/repository"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	path := t.TempDir() + "/marketdata.db"
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "marketdata"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return repository.New(db, zerolog.Nop())
}

// fakeClient is a minimal provider.Client stub for exercising the manager's
// dispatch/validate/persist pipeline without a real network call.
type fakeClient struct {
	dailyBars []domain.DailyBar
	err       error
}

func (f *fakeClient) Name() string { return "fake" }
func (f *fakeClient) FetchPriceData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.DailyBar, error) {
	return f.dailyBars, f.err
}
func (f *fakeClient) FetchIntradayData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.IntradayBar, error) {
	return nil, f.err
}
func (f *fakeClient) FetchCurrentPrice(ctx context.Context, symbol string) (*provider.CurrentPrice, error) {
	return nil, f.err
}
func (f *fakeClient) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return nil, f.err
}
func (f *fakeClient) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return nil, f.err
}
func (f *fakeClient) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return nil, f.err
}
func (f *fakeClient) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return nil, f.err
}
func (f *fakeClient) FetchIndustryPeers(ctx context.Context, symbol string) (*provider.IndustryPeers, error) {
	return nil, f.err
}
func (f *fakeClient) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*provider.FinancialStatements, error) {
	return nil, f.err
}
func (f *fakeClient) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	return nil, f.err
}
func (f *fakeClient) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return nil, f.err
}
func (f *fakeClient) IsAvailable(ctx context.Context) provider.Availability {
	return provider.Availability{Available: f.err == nil}
}
func (f *fakeClient) Capabilities() map[domain.DataType]bool {
	return map[domain.DataType]bool{domain.DataTypePriceHistorical: true}
}

var _ provider.Client = (*fakeClient)(nil)

func TestRefreshData_DailyBarsSuccess(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.DailyBar, 0, 5)
	for i := 0; i < 5; i++ {
		bars = append(bars, domain.DailyBar{
			Symbol: "NVDA", Date: base.AddDate(0, 0, i),
			Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000,
		})
	}
	client := &fakeClient{dailyBars: bars}
	mgr := New(client, repo, zerolog.Nop(), "06:00")

	result := mgr.RefreshData(context.Background(), "nvda", []domain.DataType{domain.DataTypePriceHistorical}, domain.RefreshModeOnDemand, true)

	res := result.Results[domain.DataTypePriceHistorical]
	assert.Equal(t, domain.RefreshStatusSuccess, res.Status)
	assert.Equal(t, 5, res.RowsFetched)
	assert.Equal(t, 5, res.RowsAffected)
	assert.Equal(t, 1, result.TotalSuccessful())
}

func TestRefreshData_NoDataFails(t *testing.T) {
	repo := newTestRepo(t)
	client := &fakeClient{}
	mgr := New(client, repo, zerolog.Nop(), "06:00")

	result := mgr.RefreshData(context.Background(), "NVDA", []domain.DataType{domain.DataTypePriceHistorical}, domain.RefreshModeOnDemand, true)
	res := result.Results[domain.DataTypePriceHistorical]
	assert.Equal(t, domain.RefreshStatusFailed, res.Status)
	assert.Equal(t, "no data", res.Error)
}

func TestRefreshData_SkipsWhenNotDueAndNotForced(t *testing.T) {
	repo := newTestRepo(t)
	client := &fakeClient{dailyBars: []domain.DailyBar{{Symbol: "NVDA", Date: time.Now(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}}
	mgr := New(client, repo, zerolog.Nop(), "06:00")
	ctx := context.Background()

	first := mgr.RefreshData(ctx, "NVDA", []domain.DataType{domain.DataTypePriceHistorical}, domain.RefreshModeOnDemand, true)
	require.Equal(t, domain.RefreshStatusSuccess, first.Results[domain.DataTypePriceHistorical].Status)

	second := mgr.RefreshData(ctx, "NVDA", []domain.DataType{domain.DataTypePriceHistorical}, domain.RefreshModePeriodic, false)
	assert.Equal(t, domain.RefreshStatusSkipped, second.Results[domain.DataTypePriceHistorical].Status)
}
