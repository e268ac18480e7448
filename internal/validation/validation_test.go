package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/domain"
)

func TestValidateDailyBars_DuplicateAndRangeChecks(t *testing.T) {
	d1 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []domain.DailyBar{
		{Symbol: "AAPL", Date: d1, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100},
		{Symbol: "AAPL", Date: d1, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}, // duplicate
		{Symbol: "AAPL", Date: d1.AddDate(0, 0, 1), Open: 10, High: 9, Low: 11, Close: 10, Volume: 100}, // high<low
		{Symbol: "AAPL", Date: d1.AddDate(0, 0, 2), Open: 10, High: 12, Low: 9, Close: 50, Volume: 100}, // close out of range
	}

	report := ValidateDailyBars("AAPL", rows)

	assert.Equal(t, domain.StatusFail, report.OverallStatus)
	assert.Equal(t, 3, report.RowsDropped)
	assert.Equal(t, 3, report.CriticalIssues())
}

func TestValidateDailyBars_CleanBatchPasses(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := make([]domain.DailyBar, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, domain.DailyBar{
			Symbol: "AAPL",
			Date:   base.AddDate(0, 0, i),
			Open:   100 + float64(i),
			High:   101 + float64(i),
			Low:    99 + float64(i),
			Close:  100 + float64(i),
			Volume: 1000,
		})
	}
	report := ValidateDailyBars("AAPL", rows)
	require.Equal(t, domain.StatusPass, report.OverallStatus)
	assert.Zero(t, report.RowsDropped)
}

func TestValidateDailyBars_CalendarGapWarning(t *testing.T) {
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []domain.DailyBar{
		{Symbol: "AAPL", Date: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 100},
		{Symbol: "AAPL", Date: base.AddDate(0, 0, 20), Open: 10, High: 11, Low: 9, Close: 10, Volume: 100},
	}
	report := ValidateDailyBars("AAPL", rows)
	assert.Equal(t, domain.StatusWarning, report.OverallStatus)
	assert.Equal(t, 1, report.Warnings())
}

func TestValidateEarnings_DuplicateAndDateChecks(t *testing.T) {
	est := 1.0
	act := 1.05
	rows := []domain.EarningsRecord{
		{Symbol: "AAPL", EarningsDate: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), EPSEstimate: &est, EPSActual: &act},
		{Symbol: "AAPL", EarningsDate: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), EPSEstimate: &est, EPSActual: &act},
		{Symbol: "AAPL"}, // missing date
	}
	report := ValidateEarnings("AAPL", rows)
	assert.Equal(t, domain.StatusFail, report.OverallStatus)
	assert.Equal(t, 2, report.CriticalIssues())
}

func TestValidateFundamentals_MissingIdentity(t *testing.T) {
	report := ValidateFundamentals("AAPL", domain.FundamentalsSnapshot{Symbol: "AAPL"})
	assert.Equal(t, domain.StatusFail, report.OverallStatus)
}

func TestValidateNews_TitleTooShort(t *testing.T) {
	rows := []domain.NewsArticle{
		{Title: "short", Publisher: "Reuters", PublishedAt: time.Now(), URL: "https://example.com/a"},
		{Title: "A perfectly reasonable headline length", Publisher: "Reuters", PublishedAt: time.Now(), URL: "https://example.com/b"},
	}
	report := ValidateNews("AAPL", rows)
	assert.Equal(t, domain.StatusFail, report.OverallStatus)
	assert.Equal(t, 1, report.RowsDropped)
}
