// Package readiness implements the C9 Signal Readiness Gate: a read-only
// precondition check answering "is this symbol ready for signal X?" against
// already-persisted data. It never generates signals and never fetches data
// itself; it only reads what the Refresh Manager and Validator have already
// written.
package readiness

import (
	"context"
	"fmt"
	"time"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/repository"
)

// Status is the overall readiness verdict for a (symbol, signal_type) pair.
type Status string

const (
	StatusReady    Status = "ready"
	StatusPartial  Status = "partial"
	StatusNotReady Status = "not_ready"
)

// partialThreshold is the fraction of requirements that must be satisfied
// for a partial (rather than not_ready) verdict.
const partialThreshold = 0.70

// lookbackDays is how far back CountDailyBarsSince looks for the bar-count
// requirement.
const lookbackDays = 300

// minDailyBars is the minimum number of daily bars required in the lookback
// window.
const minDailyBars = 200

// validationFreshWindow is how recent a price_historical validation report
// must be to count as satisfying the freshness requirement.
const validationFreshWindow = 48 * time.Hour

// indicatorLookbackDays bounds how far back an indicators row may be dated
// and still count as "today or the previous trading day". A plain calendar
// lookback (rather than a full trading-calendar walk) is enough here: it
// only needs to tolerate a weekend or a single holiday, not compute an exact
// trading day.
const indicatorLookbackDays = 4

// Report is the structured result of a readiness check.
type Report struct {
	Status                 Status   `json:"status"`
	Reasons                []string `json:"reasons"`
	RequirementsSatisfied   []string `json:"requirements_satisfied"`
}

// Gate checks signal readiness against the repository's already-persisted
// state. It is safe for concurrent use.
type Gate struct {
	repo *repository.Repository
}

// New builds a Gate over repo.
func New(repo *repository.Repository) *Gate {
	return &Gate{repo: repo}
}

// requirement is one named, independently-evaluated precondition.
type requirement struct {
	name  string
	check func(ctx context.Context, g *Gate, symbol string, now time.Time) (bool, string)
}

// swingTrendRequirements is the fixed requirement set for signal_type
// "swing_trend".
var swingTrendRequirements = []requirement{
	{name: "sufficient_daily_bars", check: checkSufficientDailyBars},
	{name: "fresh_validation_report", check: checkFreshValidationReport},
	{name: "recent_indicator_row", check: checkRecentIndicatorRow},
}

// CheckReadiness evaluates every requirement for signalType against symbol
// and derives the aggregate status. Unknown signal types always return
// not_ready with an explanatory reason.
func (g *Gate) CheckReadiness(ctx context.Context, symbol, signalType string) (Report, error) {
	symbol = domain.NormalizeSymbol(symbol)
	now := time.Now().UTC()

	requirements, ok := requirementsFor(signalType)
	if !ok {
		return Report{
			Status:  StatusNotReady,
			Reasons: []string{fmt.Sprintf("unknown signal_type %q", signalType)},
		}, nil
	}

	var satisfied []string
	var reasons []string
	for _, req := range requirements {
		ok, reason := req.check(ctx, g, symbol, now)
		if ok {
			satisfied = append(satisfied, req.name)
		} else {
			reasons = append(reasons, reason)
		}
	}

	fraction := float64(len(satisfied)) / float64(len(requirements))
	status := StatusNotReady
	switch {
	case len(satisfied) == len(requirements):
		status = StatusReady
	case fraction >= partialThreshold:
		status = StatusPartial
	}

	return Report{Status: status, Reasons: reasons, RequirementsSatisfied: satisfied}, nil
}

func requirementsFor(signalType string) ([]requirement, bool) {
	switch signalType {
	case "swing_trend":
		return swingTrendRequirements, true
	default:
		return nil, false
	}
}

func checkSufficientDailyBars(ctx context.Context, g *Gate, symbol string, now time.Time) (bool, string) {
	since := now.AddDate(0, 0, -lookbackDays)
	count, err := g.repo.CountDailyBarsSince(ctx, symbol, since)
	if err != nil {
		return false, fmt.Sprintf("failed to count daily bars: %v", err)
	}
	if count < minDailyBars {
		return false, fmt.Sprintf("only %d daily bars in the last %d days, need >= %d", count, lookbackDays, minDailyBars)
	}
	return true, ""
}

func checkFreshValidationReport(ctx context.Context, g *Gate, symbol string, now time.Time) (bool, string) {
	reports, err := g.repo.GetValidationReports(ctx, symbol, domain.DataTypePriceHistorical, 1)
	if err != nil {
		return false, fmt.Sprintf("failed to read validation reports: %v", err)
	}
	if len(reports) == 0 {
		return false, "no validation report found for price_historical"
	}
	latest := reports[0]
	if now.Sub(latest.Timestamp) > validationFreshWindow {
		return false, fmt.Sprintf("latest validation report is older than %s", validationFreshWindow)
	}
	if latest.OverallStatus == domain.StatusFail {
		return false, "latest validation report overall_status is fail"
	}
	return true, ""
}

func checkRecentIndicatorRow(ctx context.Context, g *Gate, symbol string, now time.Time) (bool, string) {
	for i := 0; i < indicatorLookbackDays; i++ {
		date := now.AddDate(0, 0, -i)
		has, err := g.repo.HasIndicatorRow(ctx, symbol, date)
		if err != nil {
			return false, fmt.Sprintf("failed to check indicator row: %v", err)
		}
		if has {
			return true, ""
		}
	}
	return false, fmt.Sprintf("no indicators row in the last %d days", indicatorLookbackDays)
}
