package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/domain"
)

func makeBars(n int) []domain.DailyBar {
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := make([]domain.DailyBar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.1
		rows[i] = domain.DailyBar{
			Symbol: "AAPL",
			Date:   base.AddDate(0, 0, i),
			Open:   price - 0.2,
			High:   price + 0.5,
			Low:    price - 0.5,
			Close:  price,
			Volume: 1_000_000,
		}
	}
	return rows
}

func TestCompute_EmptyInput(t *testing.T) {
	assert.Nil(t, Compute("AAPL", nil))
}

func TestCompute_ProducesOneRowPerBar(t *testing.T) {
	bars := makeBars(250)
	rows := Compute("AAPL", bars)
	require.Len(t, rows, 250)
	for _, r := range rows {
		assert.Equal(t, "AAPL", r.Symbol)
	}
}

func TestCompute_WarmupFieldsAreNilEarly(t *testing.T) {
	bars := makeBars(10)
	rows := Compute("AAPL", bars)
	assert.Nil(t, rows[0].SMA200)
	assert.Nil(t, rows[0].SMA50)
}

func TestCompute_LongSeriesHasPopulatedLongIndicators(t *testing.T) {
	bars := makeBars(250)
	rows := Compute("AAPL", bars)
	last := rows[len(rows)-1]
	assert.NotNil(t, last.SMA200)
	assert.NotNil(t, last.EMA12)
	assert.NotNil(t, last.RSI14)
}
