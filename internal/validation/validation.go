// Package validation implements the C3 Validator: a pure check catalogue
// over each domain.DataType, producing a deterministic, serializable
// domain.ValidationReport. Grounded on the teacher's layered error-kind
// model (internal/domain) rather than any single teacher validator, since
// no teacher package runs this kind of row-level data-quality catalogue.
package validation

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/quantloop/refreshengine/internal/domain"
)

// OutlierSigma is the default σ-threshold for the close-price outlier check.
const OutlierSigma = 4.0

// MaxSurpriseRatio bounds how far |actual-estimate|/|estimate| may drift
// before the earnings surprise is flagged as implausible rather than just
// large.
const MaxSurpriseRatio = 10.0

func newReport(symbol string, dt domain.DataType) domain.ValidationReport {
	return domain.ValidationReport{
		Symbol:    domain.NormalizeSymbol(symbol),
		DataType:  dt,
		Timestamp: time.Now().UTC(),
	}
}

func addIssue(report *domain.ValidationReport, sev domain.ValidationSeverity, check, msg string, row int) {
	for i := range report.Issues {
		if report.Issues[i].Check == check && report.Issues[i].Severity == sev {
			report.Issues[i].AffectedRows = append(report.Issues[i].AffectedRows, row)
			return
		}
	}
	report.Issues = append(report.Issues, domain.ValidationIssue{
		Check:        check,
		Severity:     sev,
		Message:      msg,
		AffectedRows: []int{row},
	})
}

func addCritical(report *domain.ValidationReport, check, msg string, row int) {
	addIssue(report, domain.SeverityCritical, check, msg, row)
	report.RowsDropped++
}

func addWarning(report *domain.ValidationReport, check, msg string, row int) {
	addIssue(report, domain.SeverityWarning, check, msg, row)
}

// ValidateDailyBars runs the price-bar check catalogue over rows. Duplicate
// (symbol, date) rows and out-of-range OHLC values are critical; calendar
// gaps and close-price outliers are warnings.
func ValidateDailyBars(symbol string, rows []domain.DailyBar) domain.ValidationReport {
	report := newReport(symbol, domain.DataTypePriceHistorical)
	seen := make(map[string]bool, len(rows))
	closes := make([]float64, 0, len(rows))
	dates := make([]time.Time, 0, len(rows))

	for i, b := range rows {
		if b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close == 0 {
			addCritical(&report, "missing_ohlc", fmt.Sprintf("row %d: missing open/high/low/close", i), i)
			continue
		}
		key := b.Date.Format("2006-01-02")
		if seen[key] {
			addCritical(&report, "duplicate_row", fmt.Sprintf("row %d: duplicate date %s", i, key), i)
			continue
		}
		seen[key] = true

		if b.High < b.Low {
			addCritical(&report, "high_below_low", fmt.Sprintf("row %d: high %.4f < low %.4f", i, b.High, b.Low), i)
			continue
		}
		if b.Close < b.Low || b.Close > b.High {
			addCritical(&report, "close_out_of_range", fmt.Sprintf("row %d: close %.4f outside [%.4f,%.4f]", i, b.Close, b.Low, b.High), i)
			continue
		}
		if b.Volume < 0 {
			addCritical(&report, "negative_volume", fmt.Sprintf("row %d: volume %d < 0", i, b.Volume), i)
			continue
		}
		closes = append(closes, b.Close)
		dates = append(dates, b.Date)
	}

	addCalendarGapWarning(&report, dates)
	addOutlierWarnings(&report, closes)

	report.DeriveOverallStatus()
	return report
}

// ValidateIntradayBars mirrors ValidateDailyBars for sub-daily bars.
func ValidateIntradayBars(symbol string, rows []domain.IntradayBar) domain.ValidationReport {
	report := newReport(symbol, domain.DataTypePriceIntraday15m)
	seen := make(map[string]bool, len(rows))
	closes := make([]float64, 0, len(rows))

	for i, b := range rows {
		if b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close == 0 {
			addCritical(&report, "missing_ohlc", fmt.Sprintf("row %d: missing open/high/low/close", i), i)
			continue
		}
		key := b.TsUTC.Format(time.RFC3339)
		if seen[key] {
			addCritical(&report, "duplicate_row", fmt.Sprintf("row %d: duplicate ts %s", i, key), i)
			continue
		}
		seen[key] = true

		if b.High < b.Low {
			addCritical(&report, "high_below_low", fmt.Sprintf("row %d: high < low", i), i)
			continue
		}
		if b.Close < b.Low || b.Close > b.High {
			addCritical(&report, "close_out_of_range", fmt.Sprintf("row %d: close outside [low,high]", i), i)
			continue
		}
		if b.Volume < 0 {
			addCritical(&report, "negative_volume", fmt.Sprintf("row %d: volume < 0", i), i)
			continue
		}
		closes = append(closes, b.Close)
	}
	addOutlierWarnings(&report, closes)
	report.DeriveOverallStatus()
	return report
}

// ValidateFundamentals requires at least one of sector/industry/market_cap
// and rejects a negative market cap.
func ValidateFundamentals(symbol string, snap domain.FundamentalsSnapshot) domain.ValidationReport {
	report := newReport(symbol, domain.DataTypeFundamentals)
	if snap.Sector == nil && snap.Industry == nil && snap.MarketCap == nil {
		addCritical(&report, "missing_identity", "none of sector, industry, market_cap present", 0)
	}
	if snap.MarketCap != nil && *snap.MarketCap < 0 {
		addCritical(&report, "negative_market_cap", "market_cap is negative", 0)
	}
	report.DeriveOverallStatus()
	return report
}

// ValidateEarnings checks date presence, year bounds, surprise magnitude,
// and in-batch (symbol, earnings_date) duplicates. Quarter values are not
// checked.
func ValidateEarnings(symbol string, rows []domain.EarningsRecord) domain.ValidationReport {
	report := newReport(symbol, domain.DataTypeEarnings)
	now := time.Now().UTC()
	minYear := now.AddDate(-10, 0, 0).Year()
	maxYear := now.AddDate(2, 0, 0).Year()
	seen := make(map[string]bool, len(rows))

	for i, e := range rows {
		if e.EarningsDate.IsZero() {
			addCritical(&report, "missing_earnings_date", fmt.Sprintf("row %d: earnings_date missing", i), i)
			continue
		}
		key := e.Symbol + "|" + e.EarningsDate.Format("2006-01-02")
		if seen[key] {
			addCritical(&report, "duplicate_earnings", fmt.Sprintf("row %d: duplicate (symbol, earnings_date)", i), i)
			continue
		}
		seen[key] = true

		year := e.EarningsDate.Year()
		if year < minYear || year > maxYear {
			addWarning(&report, "year_out_of_range", fmt.Sprintf("row %d: year %d outside [%d,%d]", i, year, minYear, maxYear), i)
		}
		if e.EPSEstimate != nil && e.EPSActual != nil {
			abs := math.Abs(*e.EPSEstimate)
			if abs >= domain.EarningsSurpriseEpsilon {
				ratio := math.Abs(*e.EPSActual-*e.EPSEstimate) / abs
				if ratio > MaxSurpriseRatio {
					addWarning(&report, "surprise_out_of_bounds", fmt.Sprintf("row %d: surprise ratio %.2f exceeds %.0fx", i, ratio, MaxSurpriseRatio), i)
				}
			}
		}
	}
	report.DeriveOverallStatus()
	return report
}

// ValidateNews checks title length, publisher presence, URL scheme and
// publish-date presence.
func ValidateNews(symbol string, rows []domain.NewsArticle) domain.ValidationReport {
	report := newReport(symbol, domain.DataTypeNews)
	for i, a := range rows {
		if len(a.Title) < 10 || len(a.Title) > 500 {
			addCritical(&report, "title_length", fmt.Sprintf("row %d: title length %d outside [10,500]", i, len(a.Title)), i)
			continue
		}
		if strings.TrimSpace(a.Publisher) == "" {
			addCritical(&report, "missing_publisher", fmt.Sprintf("row %d: publisher missing", i), i)
			continue
		}
		if a.PublishedAt.IsZero() {
			addCritical(&report, "missing_published_at", fmt.Sprintf("row %d: published_at missing", i), i)
			continue
		}
		if a.URL != "" {
			u, err := url.Parse(a.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				addWarning(&report, "invalid_url", fmt.Sprintf("row %d: url %q is not http(s)", i, a.URL), i)
			}
		}
	}
	report.DeriveOverallStatus()
	return report
}

// addCalendarGapWarning flags a warning when consecutive stored dates skip
// more than 5 calendar days (covers weekends plus a single holiday without
// over-firing on every Monday).
func addCalendarGapWarning(report *domain.ValidationReport, dates []time.Time) {
	if len(dates) < 2 {
		return
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1])
		if gap > 5*24*time.Hour {
			addWarning(report, "calendar_gap", fmt.Sprintf("gap of %s between %s and %s",
				gap.Round(time.Hour), sorted[i-1].Format("2006-01-02"), sorted[i].Format("2006-01-02")), i)
		}
	}
}

func addOutlierWarnings(report *domain.ValidationReport, closes []float64) {
	if len(closes) < 5 {
		return
	}
	mean := stat.Mean(closes, nil)
	sd := stat.StdDev(closes, nil)
	if sd == 0 {
		return
	}
	for i, c := range closes {
		if math.Abs(c-mean) > OutlierSigma*sd {
			addWarning(report, "outlier_move", fmt.Sprintf("row %d: close %.4f is %.1fσ from mean", i, c, math.Abs(c-mean)/sd), i)
		}
	}
}
