package scheduler

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
	"github.com/quantloop/refreshengine/internal/refresh"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/workflow"
)

func newJobsTestDeps(t *testing.T) (*repository.Repository, *refresh.Manager, *workflow.Orchestrator) {
	t.Helper()
	marketPath := t.TempDir() + "/marketdata.db"
	marketDB, err := database.New(database.Config{Path: marketPath, Profile: database.ProfileStandard, Name: "marketdata"})
	require.NoError(t, err)
	require.NoError(t, marketDB.Migrate())
	t.Cleanup(func() { _ = marketDB.Close() })

	workflowPath := t.TempDir() + "/workflow.db"
	workflowDB, err := database.New(database.Config{Path: workflowPath, Profile: database.ProfileStandard, Name: "workflow"})
	require.NoError(t, err)
	require.NoError(t, workflowDB.Migrate())
	t.Cleanup(func() { _ = workflowDB.Close() })

	repo := repository.New(marketDB, zerolog.Nop())
	client := &stubClient{}
	mgr := refresh.New(client, repo, zerolog.Nop(), "06:00")
	orch := workflow.New(workflowDB, zerolog.Nop())
	return repo, mgr, orch
}

// stubClient is a minimal provider.Client that always returns a handful of
// clean daily bars, enough to seed an ingestion_state row for every data
// type the daily job touches.
type stubClient struct{}

func (s *stubClient) Name() string { return "stub" }
func (s *stubClient) FetchPriceData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.DailyBar, error) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.DailyBar, 0, 3)
	for i := 0; i < 3; i++ {
		bars = append(bars, domain.DailyBar{Symbol: symbol, Date: base.AddDate(0, 0, i), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000})
	}
	return bars, nil
}
func (s *stubClient) FetchIntradayData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.IntradayBar, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_intraday", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchCurrentPrice(ctx context.Context, symbol string) (*provider.CurrentPrice, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_current_price", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_fundamentals", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_earnings", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_earnings_calendar", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_news", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchIndustryPeers(ctx context.Context, symbol string) (*provider.IndustryPeers, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_industry_peers", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*provider.FinancialStatements, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_financial_statements", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_actions", domain.ErrNotFound, nil)
}
func (s *stubClient) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return nil, domain.NewProviderFailure("stub", "fetch_symbol_details", domain.ErrNotFound, nil)
}
func (s *stubClient) IsAvailable(ctx context.Context) provider.Availability {
	return provider.Availability{Available: true}
}
func (s *stubClient) Capabilities() map[domain.DataType]bool {
	return map[domain.DataType]bool{domain.DataTypePriceHistorical: true}
}

var _ provider.Client = (*stubClient)(nil)

func TestDailyJob_RunsAllStagesForTrackedSymbols(t *testing.T) {
	repo, mgr, orch := newJobsTestDeps(t)
	ctx := context.Background()

	// Seed a tracked symbol by running one refresh before the job exists.
	_ = mgr.RefreshData(ctx, "NVDA", []domain.DataType{domain.DataTypePriceHistorical}, domain.RefreshModeOnDemand, true)

	job := NewDailyJob(repo, mgr, orch, zerolog.Nop())
	assert.Equal(t, "daily_workflow", job.Name())
	require.NoError(t, job.Run(ctx))

	symbols, err := repo.ListTrackedSymbols(ctx)
	require.NoError(t, err)
	assert.Contains(t, symbols, "NVDA")
}

func TestDailyJob_NoTrackedSymbolsIsNoop(t *testing.T) {
	repo, mgr, orch := newJobsTestDeps(t)
	job := NewDailyJob(repo, mgr, orch, zerolog.Nop())
	assert.NoError(t, job.Run(context.Background()))
}

func TestPeriodicJob_DispatchesDueWork(t *testing.T) {
	repo, mgr, _ := newJobsTestDeps(t)
	ctx := context.Background()

	_ = mgr.RefreshData(ctx, "NVDA", []domain.DataType{domain.DataTypePriceHistorical}, domain.RefreshModeOnDemand, true)

	job := NewPeriodicJob(repo, mgr, zerolog.Nop())
	assert.Equal(t, "periodic_tick", job.Name())
	assert.NoError(t, job.Run(ctx))
}
