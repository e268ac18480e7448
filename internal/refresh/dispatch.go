package refresh

import (
	"context"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/validation"
)

// dispatch runs the common per-data-type template from spec §4.6: fetch,
// validate, persist, and classify the outcome as success/partial/failed.
func (m *Manager) dispatch(ctx context.Context, symbol string, dt domain.DataType) DataTypeResult {
	switch dt {
	case domain.DataTypePriceHistorical:
		return m.dispatchDailyBars(ctx, symbol)
	case domain.DataTypePriceIntraday15m:
		return m.dispatchIntradayBars(ctx, symbol)
	case domain.DataTypePriceCurrent:
		return m.dispatchCurrentPrice(ctx, symbol)
	case domain.DataTypeFundamentals:
		return m.dispatchFundamentals(ctx, symbol)
	case domain.DataTypeEarnings:
		return m.dispatchEarnings(ctx, symbol)
	case domain.DataTypeNews:
		return m.dispatchNews(ctx, symbol)
	case domain.DataTypeIndustryPeers:
		return m.dispatchIndustryPeers(ctx, symbol)
	case domain.DataTypeCorporateActions:
		return m.dispatchCorporateActions(ctx, symbol)
	case domain.DataTypeIncomeStatement, domain.DataTypeBalanceSheet, domain.DataTypeCashFlow:
		return m.dispatchFinancialStatements(ctx, symbol, dt)
	case domain.DataTypeFinancialRatios:
		return m.dispatchFinancialRatios(ctx, symbol)
	case domain.DataTypeIndicators:
		m.computeIndicators(ctx, symbol)
		return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, Message: "indicators recomputed"}
	default:
		return DataTypeResult{DataType: dt, Status: domain.RefreshStatusFailed, Error: "unsupported data type"}
	}
}

func noData(dt domain.DataType) DataTypeResult {
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusFailed, Error: "no data"}
}

func providerFailed(dt domain.DataType, err error) DataTypeResult {
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusFailed, Error: err.Error()}
}

// classify turns (rowsFetched, rowsSaved) plus a validation report into the
// result's status per spec §4.6 item 2: full persistence is success,
// partial persistence (rows dropped by validation) is still "success" for
// retry purposes but labelled partial, and a critical failure on a blocking
// data type is failed.
func classify(dt domain.DataType, report domain.ValidationReport, rowsFetched, rowsSaved int) (domain.RefreshStatus, string) {
	if dt.IsBlocking() && report.OverallStatus == domain.StatusFail && rowsSaved == 0 {
		return domain.RefreshStatusFailed, "validation failed, nothing persisted"
	}
	if rowsSaved < rowsFetched {
		return domain.RefreshStatusPartial, "partial persistence after validation"
	}
	return domain.RefreshStatusSuccess, ""
}

func (m *Manager) dispatchDailyBars(ctx context.Context, symbol string) DataTypeResult {
	return m.dispatchDailyBarsWithPeriod(ctx, symbol, "1y")
}

// dispatchDailyBarsWithPeriod is dispatchDailyBars parameterized by provider
// period, used by RefreshHistorical where the caller names an explicit
// window instead of accepting the scheduled/periodic default.
func (m *Manager) dispatchDailyBarsWithPeriod(ctx context.Context, symbol, period string) DataTypeResult {
	dt := domain.DataTypePriceHistorical
	bars, err := m.client.FetchPriceData(ctx, symbol, provider.PriceQuery{Period: period})
	if err != nil {
		return providerFailed(dt, err)
	}
	if len(bars) == 0 {
		return noData(dt)
	}

	report := validation.ValidateDailyBars(symbol, bars)
	clean := dropCriticalDailyBars(bars, report)

	reportID, rerr := m.repo.WriteValidationReport(ctx, report)
	if rerr != nil {
		m.log.Warn().Err(rerr).Str("symbol", symbol).Msg("validation report write failed")
	}

	saved, err := m.repo.UpsertDailyBars(ctx, clean)
	if err != nil {
		return providerFailed(dt, err)
	}

	status, msg := classify(dt, report, len(bars), saved)
	return DataTypeResult{DataType: dt, Status: status, Message: withReportID(msg, reportID), RowsFetched: len(bars), RowsAffected: saved, ValidationReportID: reportID}
}

func (m *Manager) dispatchIntradayBars(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypePriceIntraday15m
	bars, err := m.client.FetchIntradayData(ctx, symbol, provider.PriceQuery{Period: "5d", Interval: "15m"})
	if err != nil {
		return providerFailed(dt, err)
	}
	if len(bars) == 0 {
		return noData(dt)
	}

	report := validation.ValidateIntradayBars(symbol, bars)
	clean := dropCriticalIntradayBars(bars, report)
	reportID, rerr := m.repo.WriteValidationReport(ctx, report)
	if rerr != nil {
		m.log.Warn().Err(rerr).Str("symbol", symbol).Msg("validation report write failed")
	}

	saved, err := m.repo.UpsertIntradayBars(ctx, clean)
	if err != nil {
		return providerFailed(dt, err)
	}
	status, msg := classify(dt, report, len(bars), saved)
	return DataTypeResult{DataType: dt, Status: status, Message: withReportID(msg, reportID), RowsFetched: len(bars), RowsAffected: saved, ValidationReportID: reportID}
}

func (m *Manager) dispatchCurrentPrice(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypePriceCurrent
	price, err := m.client.FetchCurrentPrice(ctx, symbol)
	if err != nil {
		return providerFailed(dt, err)
	}
	if price == nil {
		return noData(dt)
	}
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, RowsFetched: 1, RowsAffected: 1}
}

func (m *Manager) dispatchFundamentals(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypeFundamentals
	snap, err := m.client.FetchFundamentals(ctx, symbol)
	if err != nil {
		return providerFailed(dt, err)
	}
	if snap == nil {
		return noData(dt)
	}

	report := validation.ValidateFundamentals(symbol, *snap)
	reportID, rerr := m.repo.WriteValidationReport(ctx, report)
	if rerr != nil {
		m.log.Warn().Err(rerr).Str("symbol", symbol).Msg("validation report write failed")
	}
	if report.OverallStatus == domain.StatusFail {
		return DataTypeResult{DataType: dt, Status: domain.RefreshStatusFailed, Error: "validation failed", Message: withReportID("", reportID), RowsFetched: 1, ValidationReportID: reportID}
	}

	if err := m.repo.UpsertFundamentalsSnapshot(ctx, *snap); err != nil {
		return providerFailed(dt, err)
	}
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, Message: withReportID("", reportID), RowsFetched: 1, RowsAffected: 1, ValidationReportID: reportID}
}

func (m *Manager) dispatchEarnings(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypeEarnings
	rows, err := m.client.FetchEarnings(ctx, symbol)
	if err != nil {
		return providerFailed(dt, err)
	}
	if len(rows) == 0 {
		return noData(dt)
	}
	for i := range rows {
		if rows[i].SurprisePct == nil {
			rows[i].SurprisePct = domain.ComputeSurprisePct(rows[i].EPSEstimate, rows[i].EPSActual)
		}
	}

	report := validation.ValidateEarnings(symbol, rows)
	reportID, rerr := m.repo.WriteValidationReport(ctx, report)
	if rerr != nil {
		m.log.Warn().Err(rerr).Str("symbol", symbol).Msg("validation report write failed")
	}

	saved, err := m.repo.InsertEarnings(ctx, rows)
	if err != nil {
		return providerFailed(dt, err)
	}
	status, msg := classify(dt, report, len(rows), saved)
	return DataTypeResult{DataType: dt, Status: status, Message: withReportID(msg, reportID), RowsFetched: len(rows), RowsAffected: saved, ValidationReportID: reportID}
}

func (m *Manager) dispatchNews(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypeNews
	rows, err := m.client.FetchNews(ctx, symbol, 20)
	if err != nil {
		return providerFailed(dt, err)
	}
	if len(rows) == 0 {
		return noData(dt)
	}

	report := validation.ValidateNews(symbol, rows)
	clean := dropCriticalNews(rows, report)
	reportID, rerr := m.repo.WriteValidationReport(ctx, report)
	if rerr != nil {
		m.log.Warn().Err(rerr).Str("symbol", symbol).Msg("validation report write failed")
	}

	saved, err := m.repo.InsertNews(ctx, clean)
	if err != nil {
		return providerFailed(dt, err)
	}
	status, msg := classify(dt, report, len(rows), saved)
	return DataTypeResult{DataType: dt, Status: status, Message: withReportID(msg, reportID), RowsFetched: len(rows), RowsAffected: saved, ValidationReportID: reportID}
}

func (m *Manager) dispatchIndustryPeers(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypeIndustryPeers
	peers, err := m.client.FetchIndustryPeers(ctx, symbol)
	if err != nil {
		return providerFailed(dt, err)
	}
	if peers == nil || len(peers.Peers) == 0 {
		return noData(dt)
	}

	rows := make([]repository.IndustryPeer, 0, len(peers.Peers))
	for _, p := range peers.Peers {
		rows = append(rows, repository.IndustryPeer{
			Symbol:     domain.NormalizeSymbol(symbol),
			PeerSymbol: domain.NormalizeSymbol(p.Symbol),
			Source:     m.client.Name(),
			Sector:     p.Sector,
			Industry:   p.Industry,
		})
	}

	saved, err := m.repo.UpsertIndustryPeers(ctx, rows)
	if err != nil {
		return providerFailed(dt, err)
	}
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, RowsFetched: len(rows), RowsAffected: saved}
}

func (m *Manager) dispatchCorporateActions(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypeCorporateActions
	rows, err := m.client.FetchActions(ctx, symbol)
	if err != nil {
		return providerFailed(dt, err)
	}
	if len(rows) == 0 {
		return noData(dt)
	}
	saved, err := m.repo.UpsertCorporateActions(ctx, rows)
	if err != nil {
		return providerFailed(dt, err)
	}
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, RowsFetched: len(rows), RowsAffected: saved}
}

var statementTypeByDataType = map[domain.DataType]string{
	domain.DataTypeIncomeStatement: "income_statement",
	domain.DataTypeBalanceSheet:    "balance_sheet",
	domain.DataTypeCashFlow:        "cash_flow",
}

func (m *Manager) dispatchFinancialStatements(ctx context.Context, symbol string, dt domain.DataType) DataTypeResult {
	stmts, err := m.client.FetchFinancialStatements(ctx, symbol, true)
	if err != nil {
		return providerFailed(dt, err)
	}
	if stmts == nil {
		return noData(dt)
	}

	var rows []domain.FinancialStatement
	switch dt {
	case domain.DataTypeIncomeStatement:
		rows = stmts.IncomeStatement
	case domain.DataTypeBalanceSheet:
		rows = stmts.BalanceSheet
	case domain.DataTypeCashFlow:
		rows = stmts.CashFlow
	}
	if len(rows) == 0 {
		return noData(dt)
	}

	saved, err := m.repo.UpsertFinancialStatements(ctx, rows)
	if err != nil {
		return providerFailed(dt, err)
	}
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, RowsFetched: len(rows), RowsAffected: saved}
}

// dispatchFinancialRatios derives a small set of ratios from the most
// recent income-statement and balance-sheet payloads fetched alongside the
// statements themselves; there is no dedicated provider capability for
// ratios (spec glossary lists financial_ratios as a derived data type).
func (m *Manager) dispatchFinancialRatios(ctx context.Context, symbol string) DataTypeResult {
	dt := domain.DataTypeFinancialRatios
	stmts, err := m.client.FetchFinancialStatements(ctx, symbol, true)
	if err != nil {
		return providerFailed(dt, err)
	}
	if stmts == nil || len(stmts.IncomeStatement) == 0 || len(stmts.BalanceSheet) == 0 {
		return noData(dt)
	}

	ratios := deriveRatios(stmts.IncomeStatement[0], stmts.BalanceSheet[0])
	row := domain.FinancialStatement{
		Symbol:        domain.NormalizeSymbol(symbol),
		PeriodType:    "quarterly",
		StatementType: "financial_ratios",
		FiscalPeriod:  stmts.IncomeStatement[0].FiscalPeriod,
		Source:        m.client.Name(),
		Payload:       ratios,
	}
	saved, err := m.repo.UpsertFinancialStatements(ctx, []domain.FinancialStatement{row})
	if err != nil {
		return providerFailed(dt, err)
	}
	return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSuccess, RowsFetched: 1, RowsAffected: saved}
}

func deriveRatios(income, balance domain.FinancialStatement) map[string]any {
	out := map[string]any{}
	currentAssets, caOK := asFloat(balance.Payload["total_current_assets"])
	currentLiabilities, clOK := asFloat(balance.Payload["total_current_liabilities"])
	if caOK && clOK && currentLiabilities != 0 {
		out["current_ratio"] = currentAssets / currentLiabilities
	}
	totalLiabilities, tlOK := asFloat(balance.Payload["total_liabilities"])
	equity, eqOK := asFloat(balance.Payload["total_shareholder_equity"])
	if tlOK && eqOK && equity != 0 {
		out["debt_to_equity"] = totalLiabilities / equity
	}
	netIncome, niOK := asFloat(income.Payload["net_income"])
	revenue, revOK := asFloat(income.Payload["total_revenue"])
	if niOK && revOK && revenue != 0 {
		out["net_margin"] = netIncome / revenue
	}
	return out
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func dropCriticalIntradayBars(bars []domain.IntradayBar, report domain.ValidationReport) []domain.IntradayBar {
	dropped := make(map[int]bool)
	for _, issue := range report.Issues {
		if issue.Severity != domain.SeverityCritical {
			continue
		}
		for _, row := range issue.AffectedRows {
			dropped[row] = true
		}
	}
	if len(dropped) == 0 {
		return bars
	}
	clean := make([]domain.IntradayBar, 0, len(bars))
	for i, b := range bars {
		if !dropped[i] {
			clean = append(clean, b)
		}
	}
	return clean
}

func dropCriticalNews(rows []domain.NewsArticle, report domain.ValidationReport) []domain.NewsArticle {
	dropped := make(map[int]bool)
	for _, issue := range report.Issues {
		if issue.Severity != domain.SeverityCritical {
			continue
		}
		for _, row := range issue.AffectedRows {
			dropped[row] = true
		}
	}
	if len(dropped) == 0 {
		return rows
	}
	clean := make([]domain.NewsArticle, 0, len(rows))
	for i, a := range rows {
		if !dropped[i] {
			clean = append(clean, a)
		}
	}
	return clean
}

func withReportID(msg, reportID string) string {
	if reportID == "" {
		return msg
	}
	if msg == "" {
		return "validation_report_id=" + reportID
	}
	return msg + "; validation_report_id=" + reportID
}
