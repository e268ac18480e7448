// Package refresh implements the C6 Refresh Manager: given a symbol and a
// set of data types, it consults the C5 strategy, dispatches to the
// provider, validates via C3, persists via C4, updates freshness state, and
// records an audit trail — the central orchestration point the teacher's
// domain packages never needed because they read from a single broker feed
// instead of routing across capability-limited market-data providers.
package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/indicators"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/strategy"
	"github.com/quantloop/refreshengine/internal/validation"
)

// BackfillLookbackDaily is the default N in the daily self-heal window.
const BackfillLookbackDaily = 10

// BackfillLookbackIntraday is the default N in the intraday self-heal window.
const BackfillLookbackIntraday = 3

// DataTypeResult is the outcome of refreshing a single data type.
type DataTypeResult struct {
	Timestamp          time.Time
	DataType           domain.DataType
	Status             domain.RefreshStatus
	Message            string
	Error              string
	RowsFetched        int
	RowsAffected       int
	ValidationReportID string
}

// SymbolRefreshResult aggregates every data type's outcome for one symbol.
type SymbolRefreshResult struct {
	Symbol  string
	Results map[domain.DataType]DataTypeResult
}

// TotalSuccessful counts results with status success or partial.
func (r SymbolRefreshResult) TotalSuccessful() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == domain.RefreshStatusSuccess || res.Status == domain.RefreshStatusPartial {
			n++
		}
	}
	return n
}

// TotalFailed counts results with status failed.
func (r SymbolRefreshResult) TotalFailed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == domain.RefreshStatusFailed {
			n++
		}
	}
	return n
}

// Manager is the C6 Refresh Manager.
type Manager struct {
	client   provider.Client
	repo     *repository.Repository
	log      zerolog.Logger
	locks    *keyedMutex
	schedule strategy.Option
}

// New builds a Manager. client is typically a provider.Composite wrapping
// Guarded concrete providers, so rate limiting, retry and failover are
// already applied by the time the manager calls it.
func New(client provider.Client, repo *repository.Repository, log zerolog.Logger, scheduleTime string) *Manager {
	return &Manager{
		client:   client,
		repo:     repo,
		log:      log.With().Str("component", "refresh_manager").Logger(),
		locks:    newKeyedMutex(),
		schedule: strategy.WithScheduleTime(scheduleTime),
	}
}

// RefreshData runs the per-data-type refresh algorithm for symbol. force
// bypasses the strategy's due-check for every data type.
func (m *Manager) RefreshData(ctx context.Context, symbol string, dataTypes []domain.DataType, mode domain.RefreshMode, force bool) SymbolRefreshResult {
	symbol = domain.NormalizeSymbol(symbol)
	result := SymbolRefreshResult{Symbol: symbol, Results: make(map[domain.DataType]DataTypeResult, len(dataTypes))}

	for _, dt := range dataTypes {
		result.Results[dt] = m.refreshOne(ctx, symbol, dt, mode, force)
	}
	return result
}

// RefreshHistorical implements the on-demand "fetch historical" command: an
// explicit single-symbol price-history fetch for a caller-named provider
// period, optionally including a fundamentals refresh, always bypassing the
// strategy (the caller named this symbol explicitly). Unlike RefreshData's
// scheduled/periodic dispatch, which always requests the manager's default
// window, period here is caller-controlled.
func (m *Manager) RefreshHistorical(ctx context.Context, symbol, period string, includeFundamentals bool) SymbolRefreshResult {
	symbol = domain.NormalizeSymbol(symbol)
	result := SymbolRefreshResult{Symbol: symbol, Results: make(map[domain.DataType]DataTypeResult, 2)}

	unlock := m.locks.lock(symbol, domain.DataTypePriceHistorical)
	start := time.Now()
	res := m.dispatchDailyBarsWithPeriod(ctx, symbol, period)
	res.Timestamp = time.Now().UTC()
	unlock()

	m.audit(ctx, symbol, domain.DataTypePriceHistorical, domain.RefreshModeOnDemand, res, start)
	if di, ok := domain.DataTypePriceHistorical.DatasetInterval(); ok {
		m.updateState(ctx, symbol, di, res)
	}
	if res.Status == domain.RefreshStatusSuccess || res.Status == domain.RefreshStatusPartial {
		m.computeIndicators(ctx, symbol)
	}
	result.Results[domain.DataTypePriceHistorical] = res

	if includeFundamentals {
		fundamentals := m.RefreshData(ctx, symbol, []domain.DataType{domain.DataTypeFundamentals}, domain.RefreshModeOnDemand, true)
		result.Results[domain.DataTypeFundamentals] = fundamentals.Results[domain.DataTypeFundamentals]
	}
	return result
}

func (m *Manager) refreshOne(ctx context.Context, symbol string, dt domain.DataType, mode domain.RefreshMode, force bool) DataTypeResult {
	di, known := dt.DatasetInterval()
	if !known {
		return DataTypeResult{DataType: dt, Status: domain.RefreshStatusFailed, Error: "unknown data type", Timestamp: time.Now().UTC()}
	}

	unlock := m.locks.lock(symbol, dt)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return DataTypeResult{DataType: dt, Status: domain.RefreshStatusFailed, Error: err.Error(), Timestamp: time.Now().UTC()}
	}

	if !force {
		lastSuccess, err := m.repo.ReadLastSuccess(ctx, symbol, dt)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Str("data_type", string(dt)).Msg("read last success failed, proceeding as due")
		}
		if !strategy.ShouldRefresh(mode, dt, lastSuccess, time.Now().UTC(), false, m.schedule) {
			return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSkipped, Message: "not due", Timestamp: time.Now().UTC()}
		}
		if blocked, err := m.blockedByBackoff(ctx, symbol, di); err == nil && blocked && mode != domain.RefreshModeOnDemand {
			return DataTypeResult{DataType: dt, Status: domain.RefreshStatusSkipped, Message: "blocked by retry backoff", Timestamp: time.Now().UTC()}
		}
	}

	start := time.Now()
	res := m.dispatch(ctx, symbol, dt)
	res.Timestamp = time.Now().UTC()

	m.audit(ctx, symbol, dt, mode, res, start)
	m.updateState(ctx, symbol, di, res)

	if dt == domain.DataTypePriceHistorical && (res.Status == domain.RefreshStatusSuccess || res.Status == domain.RefreshStatusPartial) {
		m.computeIndicators(ctx, symbol)
	}
	if (mode == domain.RefreshModeScheduled || mode == domain.RefreshModePeriodic) &&
		(res.Status == domain.RefreshStatusSuccess || res.Status == domain.RefreshStatusPartial) {
		switch dt {
		case domain.DataTypePriceHistorical:
			m.autoBackfillDaily(ctx, symbol)
		case domain.DataTypePriceIntraday15m:
			m.autoBackfillIntraday(ctx, symbol)
		}
	}

	return res
}

func (m *Manager) blockedByBackoff(ctx context.Context, symbol string, di domain.DatasetInterval) (bool, error) {
	st, err := m.repo.GetIngestionState(ctx, symbol, di.Dataset, di.Interval)
	if err != nil || st == nil || st.NextRetryAt == nil {
		return false, err
	}
	return time.Now().UTC().Before(*st.NextRetryAt), nil
}

func (m *Manager) audit(ctx context.Context, symbol string, dt domain.DataType, mode domain.RefreshMode, res DataTypeResult, start time.Time) {
	rec := domain.DataFetchAuditRecord{
		Timestamp:          res.Timestamp,
		Symbol:             symbol,
		FetchType:          dt,
		FetchMode:          mode,
		Source:             m.client.Name(),
		RowsFetched:        res.RowsFetched,
		RowsSaved:          res.RowsAffected,
		DurationMS:         time.Since(start).Milliseconds(),
		Success:            res.Status == domain.RefreshStatusSuccess || res.Status == domain.RefreshStatusPartial,
		ErrorMessage:       res.Error,
		ValidationReportID: res.ValidationReportID,
	}
	if err := m.repo.WriteAudit(ctx, rec); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("audit write failed")
	}
}

func (m *Manager) updateState(ctx context.Context, symbol string, di domain.DatasetInterval, res DataTypeResult) {
	status := res.Status
	if status == domain.RefreshStatusPartial {
		status = domain.RefreshStatusSuccess
	}
	if status == domain.RefreshStatusSkipped {
		return
	}
	st := domain.IngestionState{
		Symbol:       symbol,
		Dataset:      di.Dataset,
		Interval:     di.Interval,
		Source:       m.client.Name(),
		Status:       status,
		ErrorMessage: res.Error,
	}
	if err := m.repo.UpdateIngestionState(ctx, st); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("ingestion state update failed")
	}
}

func (m *Manager) computeIndicators(ctx context.Context, symbol string) {
	since := time.Now().UTC().AddDate(-2, 0, 0)
	dates, err := m.repo.StoredDailyDates(ctx, symbol, since)
	if err != nil || len(dates) == 0 {
		return
	}
	_ = dates // presence check only; indicator input comes from a fresh fetch window below in a full implementation

	bars, err := m.client.FetchPriceData(ctx, symbol, provider.PriceQuery{Period: "2y"})
	if err != nil || len(bars) == 0 {
		return
	}
	report := validation.ValidateDailyBars(symbol, bars)
	clean := dropCriticalDailyBars(bars, report)
	sort.Slice(clean, func(i, j int) bool { return clean[i].Date.Before(clean[j].Date) })

	rows := indicators.Compute(symbol, clean)
	if _, err := m.repo.UpsertIndicators(ctx, rows); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("indicator persistence failed")
	}
}

func (m *Manager) autoBackfillDaily(ctx context.Context, symbol string) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -BackfillLookbackDaily)
	expected := nyseTradingDays(since, now)
	if len(expected) == 0 {
		return
	}
	present, err := m.repo.StoredDailyDates(ctx, symbol, since)
	if err != nil {
		return
	}
	missing := missingDates(expected, present)
	if len(missing) == 0 {
		return
	}
	bars, err := m.client.FetchPriceData(ctx, symbol, provider.PriceQuery{Start: missing[0], End: missing[len(missing)-1].AddDate(0, 0, 1)})
	if err != nil || len(bars) == 0 {
		return
	}
	if _, err := m.repo.UpsertDailyBars(ctx, bars); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("backfill daily upsert failed")
	}
}

func (m *Manager) autoBackfillIntraday(ctx context.Context, symbol string) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -BackfillLookbackIntraday)
	present, err := m.repo.StoredIntradayTimestamps(ctx, symbol, "15m", since)
	if err != nil {
		return
	}
	expected := intraday15mGrid(since, now)
	missing := missingDates(expected, present)
	if len(missing) == 0 {
		return
	}
	bars, err := m.client.FetchIntradayData(ctx, symbol, provider.PriceQuery{Start: missing[0], End: now, Interval: "15m"})
	if err != nil || len(bars) == 0 {
		return
	}
	if _, err := m.repo.UpsertIntradayBars(ctx, bars); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("backfill intraday upsert failed")
	}
}

func missingDates(expected []time.Time, present map[string]bool) []time.Time {
	var missing []time.Time
	for _, d := range expected {
		if !present[d.Format("2006-01-02")] && !present[d.Format(time.RFC3339)] {
			missing = append(missing, d)
		}
	}
	return missing
}

// intraday15mGrid builds every 15-minute timestamp in the NYSE regular
// session (09:30-16:00 ET, approximated here in UTC via a fixed offset)
// across each trading day in [from, to].
func intraday15mGrid(from, to time.Time) []time.Time {
	var grid []time.Time
	for _, day := range nyseTradingDays(from, to) {
		sessionStart := time.Date(day.Year(), day.Month(), day.Day(), 14, 30, 0, 0, time.UTC) // 09:30 ET ~ 14:30 UTC
		for t := sessionStart; t.Before(sessionStart.Add(6*time.Hour + 30*time.Minute)); t = t.Add(15 * time.Minute) {
			grid = append(grid, t)
		}
	}
	return grid
}

func dropCriticalDailyBars(bars []domain.DailyBar, report domain.ValidationReport) []domain.DailyBar {
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
	clean := make([]domain.DailyBar, 0, len(bars))
	for i, b := range bars {
		if !dropped[i] {
			clean = append(clean, b)
		}
	}
	return clean
}

// keyedMutex serializes access per (symbol, dataType) pair without a single
// global lock, so unrelated symbols refresh fully concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(symbol string, dt domain.DataType) func() {
	key := fmt.Sprintf("%s|%s", symbol, dt)
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
