// Package domain provides the core entities of the data refresh workflow
// engine: symbols, bars, fundamentals, earnings, corporate actions, news,
// ingestion state, validation reports, audit records and workflow state.
package domain

import (
	"strings"
	"time"
)

// DataType is the closed set of ingestible/derived datasets the engine
// knows how to refresh. Each has a fixed dataset+interval pair used as an
// IngestionState key.
type DataType string

const (
	DataTypePriceHistorical  DataType = "price_historical"
	DataTypePriceIntraday15m DataType = "price_intraday_15m"
	DataTypePriceCurrent     DataType = "price_current"
	DataTypeFundamentals     DataType = "fundamentals"
	DataTypeEarnings         DataType = "earnings"
	DataTypeNews             DataType = "news"
	DataTypeIndustryPeers    DataType = "industry_peers"
	DataTypeCorporateActions DataType = "corporate_actions"
	DataTypeIncomeStatement  DataType = "income_statement"
	DataTypeBalanceSheet     DataType = "balance_sheet"
	DataTypeCashFlow         DataType = "cash_flow"
	DataTypeFinancialRatios  DataType = "financial_ratios"
	DataTypeIndicators       DataType = "indicators"
)

// DatasetInterval describes the (dataset, interval) state key a data type
// maps to, as used by the IngestionState table.
type DatasetInterval struct {
	Dataset  string
	Interval string
}

// datasetIntervals is the authoritative dataset/interval mapping for every
// known data type. Unknown data types have no entry.
var datasetIntervals = map[DataType]DatasetInterval{
	DataTypePriceHistorical:  {Dataset: "price", Interval: "daily"},
	DataTypePriceIntraday15m: {Dataset: "price", Interval: "15m"},
	DataTypePriceCurrent:     {Dataset: "price", Interval: "last"},
	DataTypeFundamentals:     {Dataset: "fundamentals", Interval: "daily"},
	DataTypeEarnings:         {Dataset: "earnings", Interval: "event"},
	DataTypeNews:             {Dataset: "news", Interval: "event"},
	DataTypeIndustryPeers:    {Dataset: "industry_peers", Interval: "daily"},
	DataTypeCorporateActions: {Dataset: "corporate_actions", Interval: "event"},
	DataTypeIncomeStatement:  {Dataset: "income_statement", Interval: "quarterly"},
	DataTypeBalanceSheet:     {Dataset: "balance_sheet", Interval: "quarterly"},
	DataTypeCashFlow:         {Dataset: "cash_flow", Interval: "quarterly"},
	DataTypeFinancialRatios:  {Dataset: "financial_ratios", Interval: "quarterly"},
	DataTypeIndicators:       {Dataset: "indicators", Interval: "daily"},
}

// DatasetInterval returns the (dataset, interval) key this data type is
// tracked under in IngestionState. The bool is false for unknown types.
func (dt DataType) DatasetInterval() (DatasetInterval, bool) {
	di, ok := datasetIntervals[dt]
	return di, ok
}

// DataTypeFromDatasetInterval reverses DatasetInterval, resolving an
// IngestionState row's (dataset, interval) key back to its DataType. The
// bool is false if no DataType maps to that pair.
func DataTypeFromDatasetInterval(dataset, interval string) (DataType, bool) {
	for dt, di := range datasetIntervals {
		if di.Dataset == dataset && di.Interval == interval {
			return dt, true
		}
	}
	return "", false
}

// IsBlocking reports whether a failure of this data type fails the owning
// workflow stage. Only ingestion-critical data types block; fundamentals,
// earnings, industry_peers and news are advisory.
func (dt DataType) IsBlocking() bool {
	switch dt {
	case DataTypePriceHistorical, DataTypePriceIntraday15m, DataTypePriceCurrent:
		return true
	default:
		return false
	}
}

// NormalizeSymbol uppercases and trims a ticker so it can be used as a
// stable map/storage key. Symbols are created lazily on first reference.
func NormalizeSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// RefreshMode selects which Strategy governs whether a refresh should run.
type RefreshMode string

const (
	RefreshModeScheduled RefreshMode = "scheduled"
	RefreshModeOnDemand  RefreshMode = "on_demand"
	RefreshModePeriodic  RefreshMode = "periodic"
	RefreshModeLive      RefreshMode = "live"
)

// RefreshStatus is the outcome of a single data-type refresh attempt.
type RefreshStatus string

const (
	RefreshStatusSuccess RefreshStatus = "success"
	RefreshStatusFailed  RefreshStatus = "failed"
	RefreshStatusSkipped RefreshStatus = "skipped"
	RefreshStatusPartial RefreshStatus = "partial"
)

// DailyBar is a single daily OHLCV observation. PK = (Symbol, Date, Source).
type DailyBar struct {
	Date      time.Time
	Symbol    string
	Source    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjClose  float64
	Volume    int64
}

// IntradayBar is a single sub-daily OHLCV observation.
// PK = (Symbol, TsUTC, Interval, Source). The "last" interval is a
// degenerate single-point bar (O=H=L=C).
type IntradayBar struct {
	TsUTC    time.Time
	Symbol   string
	Interval string
	Source   string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
}

// FundamentalsSnapshot is an opaque, point-in-time fundamentals record.
// PK = (Symbol, AsOfDate). Known fields are surfaced for validation; the
// Extras map carries the rest of the provider payload untouched.
type FundamentalsSnapshot struct {
	AsOfDate   time.Time
	Symbol     string
	Source     string
	Sector     *string
	Industry   *string
	MarketCap  *float64
	Extras     map[string]any
}

// EarningsRecord is a single earnings event. EarningsDate is required; all
// other fields are optional depending on provider coverage.
type EarningsRecord struct {
	EarningsDate     time.Time
	EarningsAtUTC    *time.Time
	Symbol           string
	Session          *string // "bmo" | "amc" | nil
	EPSEstimate      *float64
	EPSActual        *float64
	RevenueEstimate  *float64
	RevenueActual    *float64
	SurprisePct      *float64
}

// EarningsSurpriseEpsilon is the minimum |estimate| below which surprise%
// is considered unstable and reported as absent (nil), per the spec's
// resolution of the "surprise% near zero" open question.
const EarningsSurpriseEpsilon = 0.01

// ComputeSurprisePct derives (actual-est)/|est|*100, or nil when either
// value is missing or |est| < EarningsSurpriseEpsilon.
func ComputeSurprisePct(estimate, actual *float64) *float64 {
	if estimate == nil || actual == nil {
		return nil
	}
	abs := *estimate
	if abs < 0 {
		abs = -abs
	}
	if abs < EarningsSurpriseEpsilon {
		return nil
	}
	pct := (*actual - *estimate) / abs * 100
	return &pct
}

// FinancialStatement is one fiscal-period statement of a given type.
// PK = (Symbol, PeriodType, StatementType, FiscalPeriod).
type FinancialStatement struct {
	Symbol        string
	PeriodType    string // "annual" | "quarterly"
	StatementType string // "income_statement" | "balance_sheet" | "cash_flow"
	FiscalPeriod  string // e.g. "2025-Q3" or "2025"
	Source        string
	Payload       map[string]any
}

// CorporateAction records a dividend or split. PK = (Symbol, ActionDate, ActionType).
type CorporateAction struct {
	ActionDate time.Time
	Symbol     string
	ActionType string // "dividend" | "split"
	Value      float64
	Payload    map[string]any
}

// NewsArticle is an append-only news item associated with a symbol.
type NewsArticle struct {
	PublishedAt    time.Time
	Symbol         string
	Title          string
	Publisher      string
	URL            string
	Source         string
	RelatedSymbols []string
	Raw            map[string]any
}

// IngestionState is the single source of truth for (symbol, dataset,
// interval) freshness: cursors, last success, retry state and staged
// back-off. Owned exclusively by the Refresh Manager.
type IngestionState struct {
	LastAttemptAt     time.Time
	LastSuccessAt     *time.Time
	NextRetryAt       *time.Time
	CursorDate        *time.Time
	CursorTS          *time.Time
	HistoricalStart   *time.Time
	HistoricalEnd     *time.Time
	Symbol            string
	Dataset           string
	Interval          string
	Source            string
	Status            RefreshStatus
	ErrorMessage      string
	RetryCount        int
}

// ValidationSeverity is the severity level of a single validation check.
type ValidationSeverity string

const (
	SeverityCritical ValidationSeverity = "critical"
	SeverityWarning  ValidationSeverity = "warning"
	SeverityInfo     ValidationSeverity = "info"
)

// ValidationIssue is one failed check against one or more rows.
type ValidationIssue struct {
	Check         string
	Severity      ValidationSeverity
	Message       string
	AffectedRows  []int
}

// OverallStatus is the derived status of a ValidationReport.
type OverallStatus string

const (
	StatusPass    OverallStatus = "pass"
	StatusWarning OverallStatus = "warning"
	StatusFail    OverallStatus = "fail"
)

// ValidationReport is the structured, serializable output of validating one
// payload. Append-only once written.
type ValidationReport struct {
	Timestamp      time.Time
	ReportID       string
	Symbol         string
	DataType       DataType
	OverallStatus  OverallStatus
	Issues         []ValidationIssue
	RowsDropped    int
}

// CriticalIssues returns the number of critical-severity issues.
func (r *ValidationReport) CriticalIssues() int { return r.countSeverity(SeverityCritical) }

// Warnings returns the number of warning-severity issues.
func (r *ValidationReport) Warnings() int { return r.countSeverity(SeverityWarning) }

func (r *ValidationReport) countSeverity(sev ValidationSeverity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

// DeriveOverallStatus sets OverallStatus from the current Issues list per
// spec: fail if any critical remains, else warning if any warning remains,
// else pass.
func (r *ValidationReport) DeriveOverallStatus() {
	switch {
	case r.CriticalIssues() > 0:
		r.OverallStatus = StatusFail
	case r.Warnings() > 0:
		r.OverallStatus = StatusWarning
	default:
		r.OverallStatus = StatusPass
	}
}

// IndicatorRow is one day's derived technical indicators for a symbol.
// PK = (Symbol, Date). Nil fields mean insufficient lookback on that date.
type IndicatorRow struct {
	Date       time.Time
	Symbol     string
	EMA12      *float64
	EMA26      *float64
	SMA50      *float64
	SMA200     *float64
	RSI14      *float64
	MACD       *float64
	MACDSignal *float64
	MACDHist   *float64
	ATR14      *float64
	Flags      []string
}

// DataFetchAuditRecord is an append-only record of one provider fetch +
// persistence attempt.
type DataFetchAuditRecord struct {
	Timestamp          time.Time
	AuditID            string
	Symbol             string
	FetchType          DataType
	FetchMode          RefreshMode
	Source             string
	ErrorMessage       string
	ValidationReportID string
	Metadata           map[string]any
	RowsFetched        int
	RowsSaved          int
	DurationMS         int64
	Success            bool
}
