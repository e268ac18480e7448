// Package indicators implements the C10 Indicator/Signal Adapter: it
// derives the standard technical-indicator series from a cleaned daily-bar
// history via go-talib, the same library the teacher's formulas package
// uses for single-value EMA/RSI (trader-go/pkg/formulas), generalized here
// to emit one row per trading day instead of just the latest value.
package indicators

import (
	"github.com/markcheno/go-talib"

	"github.com/quantloop/refreshengine/internal/domain"
)

const (
	periodEMAFast = 12
	periodEMASlow = 26
	periodSMAMid  = 50
	periodSMALong = 200
	periodRSI     = 14
	periodATR     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
)

// Compute derives EMA(12/26), SMA(50/200), RSI(14), MACD(12,26,9) and
// ATR(14) for every bar in rows (already sorted ascending by date, the
// contract upheld by the refresh manager before calling in). A value is
// nil wherever the bar's position has insufficient lookback.
func Compute(symbol string, rows []domain.DailyBar) []domain.IndicatorRow {
	n := len(rows)
	if n == 0 {
		return nil
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range rows {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	ema12 := talib.Ema(closes, periodEMAFast)
	ema26 := talib.Ema(closes, periodEMASlow)
	sma50 := talib.Sma(closes, periodSMAMid)
	sma200 := talib.Sma(closes, periodSMALong)
	rsi14 := talib.Rsi(closes, periodRSI)
	macd, macdSig, macdHist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	atr14 := talib.Atr(highs, lows, closes, periodATR)

	out := make([]domain.IndicatorRow, n)
	for i, b := range rows {
		out[i] = domain.IndicatorRow{
			Symbol:     domain.NormalizeSymbol(symbol),
			Date:       b.Date,
			EMA12:      valueAt(ema12, i, periodEMAFast),
			EMA26:      valueAt(ema26, i, periodEMASlow),
			SMA50:      valueAt(sma50, i, periodSMAMid),
			SMA200:     valueAt(sma200, i, periodSMALong),
			RSI14:      valueAt(rsi14, i, periodRSI+1),
			MACD:       valueAt(macd, i, macdSlow+macdSignal),
			MACDSignal: valueAt(macdSig, i, macdSlow+macdSignal),
			MACDHist:   valueAt(macdHist, i, macdSlow+macdSignal),
			ATR14:      valueAt(atr14, i, periodATR+1),
			Flags:      deriveFlags(closes, sma50, sma200, i),
		}
	}
	return out
}

// valueAt returns &series[i] unless i is before the warm-up period or the
// talib output is NaN at that index, in which case it returns nil.
func valueAt(series []float64, i, warmup int) *float64 {
	if i < warmup-1 || i >= len(series) {
		return nil
	}
	v := series[i]
	if v != v { // NaN
		return nil
	}
	return &v
}

// deriveFlags computes simple boolean signal flags from the moving
// averages, mirroring the teacher's distance-from-EMA style derived
// booleans (trader/pkg/formulas/ema.go) generalized to a flag list.
func deriveFlags(closes, sma50, sma200 []float64, i int) []string {
	var flags []string
	if i < len(sma50) && sma50[i] == sma50[i] && closes[i] > sma50[i] {
		flags = append(flags, "above_sma50")
	}
	if i < len(sma200) && sma200[i] == sma200[i] && closes[i] > sma200[i] {
		flags = append(flags, "above_sma200")
	}
	if i < len(sma50) && i < len(sma200) && sma50[i] == sma50[i] && sma200[i] == sma200[i] && sma50[i] > sma200[i] {
		flags = append(flags, "golden_cross_zone")
	}
	return flags
}
