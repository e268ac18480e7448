package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
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

func seedDailyBars(t *testing.T, repo *repository.Repository, symbol string, n int) {
	t.Helper()
	now := time.Now().UTC()
	bars := make([]domain.DailyBar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, domain.DailyBar{
			Symbol: symbol, Date: now.AddDate(0, 0, -i),
			Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000,
		})
	}
	_, err := repo.UpsertDailyBars(context.Background(), bars)
	require.NoError(t, err)
}

func seedValidationReport(t *testing.T, repo *repository.Repository, symbol string, ts time.Time, status domain.OverallStatus) {
	t.Helper()
	_, err := repo.WriteValidationReport(context.Background(), domain.ValidationReport{
		Symbol: symbol, DataType: domain.DataTypePriceHistorical, Timestamp: ts, OverallStatus: status,
	})
	require.NoError(t, err)
}

func seedIndicatorRow(t *testing.T, repo *repository.Repository, symbol string, date time.Time) {
	t.Helper()
	_, err := repo.UpsertIndicators(context.Background(), []domain.IndicatorRow{{Symbol: symbol, Date: date}})
	require.NoError(t, err)
}

func TestCheckReadiness_AllSatisfiedIsReady(t *testing.T) {
	repo := newTestRepo(t)
	gate := New(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	seedDailyBars(t, repo, "NVDA", 250)
	seedValidationReport(t, repo, "NVDA", now.Add(-time.Hour), domain.StatusPass)
	seedIndicatorRow(t, repo, "NVDA", now)

	report, err := gate.CheckReadiness(ctx, "nvda", "swing_trend")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, report.Status)
	assert.Len(t, report.RequirementsSatisfied, 3)
	assert.Empty(t, report.Reasons)
}

func TestCheckReadiness_InsufficientBarsIsNotReady(t *testing.T) {
	repo := newTestRepo(t)
	gate := New(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	seedDailyBars(t, repo, "NVDA", 50)
	seedValidationReport(t, repo, "NVDA", now.Add(-time.Hour), domain.StatusWarning)
	seedIndicatorRow(t, repo, "NVDA", now)

	report, err := gate.CheckReadiness(ctx, "NVDA", "swing_trend")
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Contains(t, report.RequirementsSatisfied, "fresh_validation_report")
	assert.Contains(t, report.RequirementsSatisfied, "recent_indicator_row")
	assert.NotEmpty(t, report.Reasons)
}

func TestCheckReadiness_NothingSatisfiedIsNotReady(t *testing.T) {
	repo := newTestRepo(t)
	gate := New(repo)

	report, err := gate.CheckReadiness(context.Background(), "NVDA", "swing_trend")
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Empty(t, report.RequirementsSatisfied)
	assert.Len(t, report.Reasons, 3)
}

func TestCheckReadiness_StaleValidationReportFails(t *testing.T) {
	repo := newTestRepo(t)
	gate := New(repo)
	now := time.Now().UTC()

	seedDailyBars(t, repo, "NVDA", 250)
	seedValidationReport(t, repo, "NVDA", now.Add(-72*time.Hour), domain.StatusPass)
	seedIndicatorRow(t, repo, "NVDA", now)

	report, err := gate.CheckReadiness(context.Background(), "NVDA", "swing_trend")
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, report.Status)
	assert.NotContains(t, report.RequirementsSatisfied, "fresh_validation_report")
}

func TestCheckReadiness_UnknownSignalTypeIsNotReady(t *testing.T) {
	repo := newTestRepo(t)
	gate := New(repo)

	report, err := gate.CheckReadiness(context.Background(), "NVDA", "mean_reversion")
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, report.Status)
	assert.Len(t, report.Reasons, 1)
}
