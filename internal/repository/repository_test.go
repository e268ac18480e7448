package repository

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := t.TempDir() + "/marketdata.db"
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "marketdata"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zerolog.Nop())
}

func TestUpsertDailyBars_InsertsThenUpdatesInPlace(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	n, err := repo.UpsertDailyBars(ctx, []domain.DailyBar{
		{Symbol: "NVDA", Date: day, Source: "alphavantage", Open: 10, High: 11, Low: 9, Close: 10.5, AdjClose: 10.5, Volume: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.UpsertDailyBars(ctx, []domain.DailyBar{
		{Symbol: "NVDA", Date: day, Source: "alphavantage", Open: 10, High: 12, Low: 9, Close: 11.5, AdjClose: 11.5, Volume: 2000},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var close_, high float64
	var volume int64
	require.NoError(t, repo.db.Conn().QueryRowContext(ctx,
		`SELECT close, high, volume FROM raw_market_data_daily WHERE symbol = ? AND date = ? AND source = ?`,
		"NVDA", "2026-01-05", "alphavantage").Scan(&close_, &high, &volume))
	assert.Equal(t, 11.5, close_)
	assert.Equal(t, 12.0, high)
	assert.Equal(t, int64(2000), volume)
}

func TestInsertEarnings_SkipsRowsWithoutEarningsDate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	n, err := repo.InsertEarnings(ctx, []domain.EarningsRecord{
		{Symbol: "NVDA", EarningsDate: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)},
		{Symbol: "NVDA"}, // zero EarningsDate, must be skipped
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertNews_DedupsByURL(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	article := domain.NewsArticle{
		Symbol: "NVDA", Title: "NVDA rallies", Publisher: "wire", URL: "https://example.com/a",
		PublishedAt: time.Now().UTC(), Source: "yahoo",
	}

	n, err := repo.InsertNews(ctx, []domain.NewsArticle{article, article})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate url within the same symbol must be deduped")
}

func TestUpdateIngestionState_SuccessResetsRetryCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpdateIngestionState(ctx, domain.IngestionState{
		Symbol: "NVDA", Dataset: "price", Interval: "daily", Status: domain.RefreshStatusFailed,
	}))
	require.NoError(t, repo.UpdateIngestionState(ctx, domain.IngestionState{
		Symbol: "NVDA", Dataset: "price", Interval: "daily", Status: domain.RefreshStatusFailed,
	}))

	st, err := repo.GetIngestionState(ctx, "NVDA", "price", "daily")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 2, st.RetryCount)
	assert.NotNil(t, st.NextRetryAt)

	require.NoError(t, repo.UpdateIngestionState(ctx, domain.IngestionState{
		Symbol: "NVDA", Dataset: "price", Interval: "daily", Status: domain.RefreshStatusSuccess,
	}))

	st, err = repo.GetIngestionState(ctx, "NVDA", "price", "daily")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 0, st.RetryCount)
	assert.NotNil(t, st.LastSuccessAt)
}

func TestUpdateIngestionState_StagedBackoff(t *testing.T) {
	assert.Equal(t, 6*time.Hour, backoffFor(1))
	assert.Equal(t, 24*time.Hour, backoffFor(2))
	assert.Equal(t, 48*time.Hour, backoffFor(3))
	assert.Equal(t, 48*time.Hour, backoffFor(10))
}

func TestWriteValidationReport_GeneratesIDWhenEmpty(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.WriteValidationReport(ctx, domain.ValidationReport{
		Symbol: "NVDA", DataType: domain.DataTypePriceHistorical, Timestamp: time.Now().UTC(),
		Issues: []domain.ValidationIssue{{Check: "gap_check", Severity: domain.SeverityWarning, Message: "1 gap"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	reports, err := repo.GetValidationReports(ctx, "NVDA", domain.DataTypePriceHistorical, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.StatusWarning, reports[0].OverallStatus)
}

func TestWriteAudit_RoundTrips(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.WriteAudit(ctx, domain.DataFetchAuditRecord{
		Symbol: "NVDA", FetchType: domain.DataTypePriceHistorical, FetchMode: domain.RefreshModeScheduled,
		Timestamp: time.Now().UTC(), Source: "alphavantage", RowsFetched: 5, RowsSaved: 5, Success: true,
	}))

	recs, err := repo.GetAudit(ctx, "NVDA", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, 5, recs[0].RowsSaved)
}

func TestReadLastSuccess_NilWhenNeverAttempted(t *testing.T) {
	repo := newTestRepo(t)
	ts, err := repo.ReadLastSuccess(context.Background(), "NVDA", domain.DataTypePriceHistorical)
	require.NoError(t, err)
	assert.Nil(t, ts)
}
