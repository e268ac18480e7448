// Package repository persists the core domain entities idempotently against
// the marketdata SQLite database. Every write is an upsert keyed by the
// primary keys from the data model; audit and validation-report writes are
// append-only and best-effort.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
)

// Repository is the C4 persistence layer. All methods are safe for
// concurrent use; upserts make concurrent writes to distinct keys safe, and
// SQLite's single-writer model serializes writes to the same key.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// New wraps an already-migrated marketdata database.
func New(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "repository").Logger()}
}

const isoDate = "2006-01-02"

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// UpsertDailyBars persists daily bars keyed by (symbol, date, source); last
// write wins per column.
func (r *Repository) UpsertDailyBars(ctx context.Context, rows []domain.DailyBar) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_market_data_daily
				(symbol, date, source, open, high, low, close, adj_close, volume, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, date, source) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, adj_close = excluded.adj_close,
				volume = excluded.volume, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, b := range rows {
			if _, err := stmt.ExecContext(ctx, b.Symbol, b.Date.UTC().Format(isoDate), b.Source,
				b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume, now); err != nil {
				return n, fmt.Errorf("upsert daily bar %s %s: %w", b.Symbol, b.Date.Format(isoDate), err)
			}
			n++
		}
		return n, nil
	})
}

// UpsertIntradayBars persists intraday bars keyed by (symbol, ts_utc, interval, source).
func (r *Repository) UpsertIntradayBars(ctx context.Context, rows []domain.IntradayBar) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_market_data_intraday
				(symbol, ts, interval, source, open, high, low, close, volume, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, ts, interval, source) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, b := range rows {
			if _, err := stmt.ExecContext(ctx, b.Symbol, b.TsUTC.UTC().Format(time.RFC3339), b.Interval, b.Source,
				b.Open, b.High, b.Low, b.Close, b.Volume, now); err != nil {
				return n, fmt.Errorf("upsert intraday bar %s %s: %w", b.Symbol, b.TsUTC, err)
			}
			n++
		}
		return n, nil
	})
}

// UpsertFundamentalsSnapshot persists one snapshot keyed by (symbol, as_of_date).
func (r *Repository) UpsertFundamentalsSnapshot(ctx context.Context, snap domain.FundamentalsSnapshot) error {
	payload := map[string]any{"extras": snap.Extras}
	if snap.Sector != nil {
		payload["sector"] = *snap.Sector
	}
	if snap.Industry != nil {
		payload["industry"] = *snap.Industry
	}
	if snap.MarketCap != nil {
		payload["market_cap"] = *snap.MarketCap
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal fundamentals payload: %w", err)
	}

	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO fundamentals_snapshots (symbol, as_of_date, source, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, as_of_date) DO UPDATE SET
			source = excluded.source, payload = excluded.payload, updated_at = excluded.updated_at`,
		snap.Symbol, snap.AsOfDate.UTC().Format(isoDate), snap.Source, string(buf), nowISO())
	return err
}

// UpsertFinancialStatements persists statements keyed by (symbol, period_type, statement_type, fiscal_period).
func (r *Repository) UpsertFinancialStatements(ctx context.Context, rows []domain.FinancialStatement) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO financial_statements (symbol, period_type, statement_type, fiscal_period, source, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, period_type, statement_type, fiscal_period) DO UPDATE SET
				source = excluded.source, payload = excluded.payload, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, s := range rows {
			buf, err := json.Marshal(s.Payload)
			if err != nil {
				return n, fmt.Errorf("marshal statement payload: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, s.Symbol, s.PeriodType, s.StatementType, s.FiscalPeriod, s.Source, string(buf), now); err != nil {
				return n, fmt.Errorf("upsert statement %s %s: %w", s.Symbol, s.FiscalPeriod, err)
			}
			n++
		}
		return n, nil
	})
}

// UpsertCorporateActions persists actions keyed by (symbol, action_date, action_type).
func (r *Repository) UpsertCorporateActions(ctx context.Context, rows []domain.CorporateAction) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO corporate_actions (symbol, action_date, action_type, value, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, action_date, action_type) DO UPDATE SET
				value = excluded.value, payload = excluded.payload, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, a := range rows {
			buf, err := json.Marshal(a.Payload)
			if err != nil {
				return n, fmt.Errorf("marshal action payload: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, a.Symbol, a.ActionDate.UTC().Format(isoDate), a.ActionType, a.Value, string(buf), now); err != nil {
				return n, fmt.Errorf("upsert corporate action %s %s: %w", a.Symbol, a.ActionDate.Format(isoDate), err)
			}
			n++
		}
		return n, nil
	})
}

// IndustryPeer is one row of the peers relation returned by a provider.
type IndustryPeer struct {
	Symbol     string
	PeerSymbol string
	Source     string
	Sector     string
	Industry   string
}

// UpsertIndustryPeers persists peers keyed by (symbol, peer_symbol, source).
func (r *Repository) UpsertIndustryPeers(ctx context.Context, rows []IndustryPeer) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO industry_peers (symbol, peer_symbol, source, sector, industry, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, peer_symbol, source) DO UPDATE SET
				sector = excluded.sector, industry = excluded.industry, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, p := range rows {
			if _, err := stmt.ExecContext(ctx, p.Symbol, p.PeerSymbol, p.Source, p.Sector, p.Industry, now); err != nil {
				return n, fmt.Errorf("upsert industry peer %s/%s: %w", p.Symbol, p.PeerSymbol, err)
			}
			n++
		}
		return n, nil
	})
}

// UpsertIndicators persists one derived-indicator row per (symbol, date).
func (r *Repository) UpsertIndicators(ctx context.Context, rows []domain.IndicatorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO indicators_daily
				(symbol, date, ema_12, ema_26, sma_50, sma_200, rsi_14, macd, macd_signal, macd_hist, atr_14, flags, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, date) DO UPDATE SET
				ema_12 = excluded.ema_12, ema_26 = excluded.ema_26,
				sma_50 = excluded.sma_50, sma_200 = excluded.sma_200,
				rsi_14 = excluded.rsi_14, macd = excluded.macd,
				macd_signal = excluded.macd_signal, macd_hist = excluded.macd_hist,
				atr_14 = excluded.atr_14, flags = excluded.flags, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, row := range rows {
			flagsJSON, err := json.Marshal(row.Flags)
			if err != nil {
				return n, fmt.Errorf("marshal indicator flags %s %s: %w", row.Symbol, row.Date.Format(isoDate), err)
			}
			if _, err := stmt.ExecContext(ctx, row.Symbol, row.Date.UTC().Format(isoDate),
				nullableFloat(row.EMA12), nullableFloat(row.EMA26), nullableFloat(row.SMA50), nullableFloat(row.SMA200),
				nullableFloat(row.RSI14), nullableFloat(row.MACD), nullableFloat(row.MACDSignal), nullableFloat(row.MACDHist),
				nullableFloat(row.ATR14), string(flagsJSON), now); err != nil {
				return n, fmt.Errorf("upsert indicator row %s %s: %w", row.Symbol, row.Date.Format(isoDate), err)
			}
			n++
		}
		return n, nil
	})
}

// InsertEarnings upserts on (symbol, earnings_date); rows without a valid
// earnings date are skipped (not counted in the returned total).
func (r *Repository) InsertEarnings(ctx context.Context, rows []domain.EarningsRecord) (int, error) {
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO earnings_data
				(symbol, earnings_date, earnings_at_utc, session, eps_estimate, eps_actual, revenue_estimate, revenue_actual, surprise_pct, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, earnings_date) DO UPDATE SET
				earnings_at_utc = excluded.earnings_at_utc, session = excluded.session,
				eps_estimate = excluded.eps_estimate, eps_actual = excluded.eps_actual,
				revenue_estimate = excluded.revenue_estimate, revenue_actual = excluded.revenue_actual,
				surprise_pct = excluded.surprise_pct, updated_at = excluded.updated_at`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		now := nowISO()
		n := 0
		for _, e := range rows {
			if e.EarningsDate.IsZero() {
				continue
			}
			var atUTC any
			if e.EarningsAtUTC != nil {
				atUTC = e.EarningsAtUTC.UTC().Format(time.RFC3339)
			}
			if _, err := stmt.ExecContext(ctx, e.Symbol, e.EarningsDate.UTC().Format(isoDate), atUTC,
				nullableStr(e.Session), nullableFloat(e.EPSEstimate), nullableFloat(e.EPSActual),
				nullableFloat(e.RevenueEstimate), nullableFloat(e.RevenueActual), nullableFloat(e.SurprisePct), now); err != nil {
				return n, fmt.Errorf("upsert earnings %s %s: %w", e.Symbol, e.EarningsDate.Format(isoDate), err)
			}
			n++
		}
		return n, nil
	})
}

// InsertNews appends news articles, de-duplicated per symbol by URL (or a
// content hash when URL is absent).
func (r *Repository) InsertNews(ctx context.Context, rows []domain.NewsArticle) (int, error) {
	return r.withTxCount(ctx, func(tx *sql.Tx) (int, error) {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO news_articles (symbol, published_at, title, publisher, url, source, related_symbols, dedup_key, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, dedup_key) DO NOTHING`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		n := 0
		for _, a := range rows {
			related, err := json.Marshal(a.RelatedSymbols)
			if err != nil {
				return n, err
			}
			raw, err := json.Marshal(a.Raw)
			if err != nil {
				return n, err
			}
			dedupKey := a.URL
			if dedupKey == "" {
				dedupKey = fmt.Sprintf("%s|%s", a.Title, a.PublishedAt.UTC().Format(time.RFC3339))
			}
			res, err := stmt.ExecContext(ctx, a.Symbol, a.PublishedAt.UTC().Format(time.RFC3339), a.Title, a.Publisher,
				a.URL, a.Source, string(related), dedupKey, string(raw))
			if err != nil {
				return n, fmt.Errorf("insert news %s: %w", a.Symbol, err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				n++
			}
		}
		return n, nil
	})
}

// WriteAudit appends a DataFetchAuditRecord. Failures are the caller's to
// log and count; they must never fail the primary refresh operation.
func (r *Repository) WriteAudit(ctx context.Context, rec domain.DataFetchAuditRecord) error {
	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO data_fetch_audit
			(audit_id, symbol, fetch_type, fetch_mode, timestamp, source, rows_fetched, rows_saved, duration_ms, success, error_message, validation_report_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AuditID, rec.Symbol, string(rec.FetchType), string(rec.FetchMode), rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Source, rec.RowsFetched, rec.RowsSaved, rec.DurationMS, rec.Success, nullString(rec.ErrorMessage),
		nullString(rec.ValidationReportID), string(meta))
	return err
}

// GetAudit returns the most recent audit records for a symbol.
func (r *Repository) GetAudit(ctx context.Context, symbol string, limit int) ([]domain.DataFetchAuditRecord, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT audit_id, symbol, fetch_type, fetch_mode, timestamp, source, rows_fetched, rows_saved,
		       duration_ms, success, COALESCE(error_message, ''), COALESCE(validation_report_id, ''), metadata
		FROM data_fetch_audit WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DataFetchAuditRecord
	for rows.Next() {
		var rec domain.DataFetchAuditRecord
		var ts string
		var fetchType, fetchMode, metaRaw string
		if err := rows.Scan(&rec.AuditID, &rec.Symbol, &fetchType, &fetchMode, &ts, &rec.Source,
			&rec.RowsFetched, &rec.RowsSaved, &rec.DurationMS, &rec.Success, &rec.ErrorMessage,
			&rec.ValidationReportID, &metaRaw); err != nil {
			return nil, err
		}
		rec.FetchType = domain.DataType(fetchType)
		rec.FetchMode = domain.RefreshMode(fetchMode)
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		_ = json.Unmarshal([]byte(metaRaw), &rec.Metadata)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListAuditRecordsSince returns every audit record written at or after
// since, across all symbols, oldest first. Used by the archival job to
// batch records for cold storage.
func (r *Repository) ListAuditRecordsSince(ctx context.Context, since time.Time) ([]domain.DataFetchAuditRecord, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT audit_id, symbol, fetch_type, fetch_mode, timestamp, source, rows_fetched, rows_saved,
		       duration_ms, success, COALESCE(error_message, ''), COALESCE(validation_report_id, ''), metadata
		FROM data_fetch_audit WHERE timestamp >= ? ORDER BY timestamp ASC`, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DataFetchAuditRecord
	for rows.Next() {
		var rec domain.DataFetchAuditRecord
		var ts string
		var fetchType, fetchMode, metaRaw string
		if err := rows.Scan(&rec.AuditID, &rec.Symbol, &fetchType, &fetchMode, &ts, &rec.Source,
			&rec.RowsFetched, &rec.RowsSaved, &rec.DurationMS, &rec.Success, &rec.ErrorMessage,
			&rec.ValidationReportID, &metaRaw); err != nil {
			return nil, err
		}
		rec.FetchType = domain.DataType(fetchType)
		rec.FetchMode = domain.RefreshMode(fetchMode)
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		_ = json.Unmarshal([]byte(metaRaw), &rec.Metadata)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListValidationReportsSince returns every validation report written at or
// after since, across all symbols, oldest first.
func (r *Repository) ListValidationReportsSince(ctx context.Context, since time.Time) ([]domain.ValidationReport, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT body FROM data_validation_reports WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ValidationReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rep domain.ValidationReport
		if err := json.Unmarshal([]byte(body), &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// WriteValidationReport appends a report and returns its generated ID,
// formatted as symbol|data_type|ts|rand8.
func (r *Repository) WriteValidationReport(ctx context.Context, report domain.ValidationReport) (string, error) {
	if report.ReportID == "" {
		report.ReportID = fmt.Sprintf("%s|%s|%d|%s", report.Symbol, report.DataType,
			report.Timestamp.UTC().UnixNano(), uuid.NewString()[:8])
	}
	report.DeriveOverallStatus()
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal validation report: %w", err)
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO data_validation_reports
			(report_id, symbol, data_type, timestamp, overall_status, critical_issues, warnings, rows_dropped, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ReportID, report.Symbol, string(report.DataType), report.Timestamp.UTC().Format(time.RFC3339),
		string(report.OverallStatus), report.CriticalIssues(), report.Warnings(), report.RowsDropped, string(body))
	if err != nil {
		return "", err
	}
	return report.ReportID, nil
}

// GetValidationReports returns the most recent reports for (symbol, dataType).
func (r *Repository) GetValidationReports(ctx context.Context, symbol string, dataType domain.DataType, limit int) ([]domain.ValidationReport, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT body FROM data_validation_reports
		WHERE symbol = ? AND data_type = ? ORDER BY timestamp DESC LIMIT ?`, symbol, string(dataType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ValidationReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rep domain.ValidationReport
		if err := json.Unmarshal([]byte(body), &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// UpdateIngestionState upserts on (symbol, dataset, interval) and applies
// the success/failure semantics from spec §4.4: success resets retry_count
// and stamps last_success_at; failure increments retry_count and stages the
// next_retry_at back-off window (spec §4.6).
func (r *Repository) UpdateIngestionState(ctx context.Context, st domain.IngestionState) error {
	now := time.Now().UTC()
	st.LastAttemptAt = now

	var nextRetryAt *time.Time
	if st.Status != domain.RefreshStatusSuccess {
		prior, err := r.currentRetryCount(ctx, st.Symbol, st.Dataset, st.Interval)
		if err != nil {
			return err
		}
		st.RetryCount = prior + 1
		at := now.Add(backoffFor(st.RetryCount))
		nextRetryAt = &at
	} else {
		st.RetryCount = 0
		st.LastSuccessAt = &now
	}

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO ingestion_state
			(symbol, dataset, interval, source, historical_start, historical_end, cursor_date, cursor_ts,
			 last_attempt_at, last_success_at, status, error_message, retry_count, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, dataset, interval) DO UPDATE SET
			source = excluded.source,
			historical_start = COALESCE(excluded.historical_start, ingestion_state.historical_start),
			historical_end = COALESCE(excluded.historical_end, ingestion_state.historical_end),
			cursor_date = COALESCE(excluded.cursor_date, ingestion_state.cursor_date),
			cursor_ts = COALESCE(excluded.cursor_ts, ingestion_state.cursor_ts),
			last_attempt_at = excluded.last_attempt_at,
			last_success_at = CASE WHEN excluded.status = 'success' THEN excluded.last_attempt_at ELSE ingestion_state.last_success_at END,
			status = excluded.status,
			error_message = excluded.error_message,
			retry_count = CASE WHEN excluded.status = 'success' THEN 0 ELSE ingestion_state.retry_count + 1 END,
			next_retry_at = excluded.next_retry_at`,
		st.Symbol, st.Dataset, st.Interval, nullString(st.Source),
		nullableTime(st.HistoricalStart), nullableTime(st.HistoricalEnd),
		nullableTime(st.CursorDate), nullableTime(st.CursorTS),
		st.LastAttemptAt.Format(time.RFC3339), nullableTime(st.LastSuccessAt),
		string(st.Status), nullString(st.ErrorMessage), st.RetryCount, nullableTime(nextRetryAt))
	return err
}

func (r *Repository) currentRetryCount(ctx context.Context, symbol, dataset, interval string) (int, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT retry_count FROM ingestion_state WHERE symbol = ? AND dataset = ? AND interval = ?`,
		symbol, dataset, interval).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// backoffFor returns the staged back-off delay for the Nth consecutive
// failure: attempt 1 -> 6h, attempt 2 -> 24h, attempt >= 3 -> 48h.
func backoffFor(retryCount int) time.Duration {
	switch {
	case retryCount <= 1:
		return 6 * time.Hour
	case retryCount == 2:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// GetIngestionState returns the current state row, or nil if never attempted.
func (r *Repository) GetIngestionState(ctx context.Context, symbol, dataset, interval string) (*domain.IngestionState, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
		SELECT symbol, dataset, interval, COALESCE(source, ''), historical_start, historical_end,
		       cursor_date, cursor_ts, last_attempt_at, last_success_at, status,
		       COALESCE(error_message, ''), retry_count, next_retry_at
		FROM ingestion_state WHERE symbol = ? AND dataset = ? AND interval = ?`, symbol, dataset, interval)

	var st domain.IngestionState
	var historicalStart, historicalEnd, cursorDate, cursorTS, lastAttempt, lastSuccess, nextRetry sql.NullString
	var status string
	if err := row.Scan(&st.Symbol, &st.Dataset, &st.Interval, &st.Source, &historicalStart, &historicalEnd,
		&cursorDate, &cursorTS, &lastAttempt, &lastSuccess, &status, &st.ErrorMessage, &st.RetryCount, &nextRetry); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	st.Status = domain.RefreshStatus(status)
	st.HistoricalStart = parseNullableTime(historicalStart)
	st.HistoricalEnd = parseNullableTime(historicalEnd)
	st.CursorDate = parseNullableTime(cursorDate)
	st.CursorTS = parseNullableTime(cursorTS)
	st.LastSuccessAt = parseNullableTime(lastSuccess)
	st.NextRetryAt = parseNullableTime(nextRetry)
	if lastAttempt.Valid {
		st.LastAttemptAt, _ = time.Parse(time.RFC3339, lastAttempt.String)
	}
	return &st, nil
}

// ReadLastSuccess returns the last successful refresh time for (symbol,
// dataType), used by the Refresh Strategy.
func (r *Repository) ReadLastSuccess(ctx context.Context, symbol string, dataType domain.DataType) (*time.Time, error) {
	di, ok := dataType.DatasetInterval()
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	st, err := r.GetIngestionState(ctx, symbol, di.Dataset, di.Interval)
	if err != nil || st == nil {
		return nil, err
	}
	return st.LastSuccessAt, nil
}

// ListTrackedSymbols returns every distinct symbol with at least one
// ingestion_state row, i.e. every symbol the engine has ever been asked to
// refresh. The Scheduler uses this to enumerate its daily and periodic
// work; the repository owns the query since it alone knows the storage
// shape.
func (r *Repository) ListTrackedSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `SELECT DISTINCT symbol FROM ingestion_state ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// DuePeriodicWork returns every (symbol, dataType) pair that is not
// currently blocked by an in-flight back-off window (next_retry_at in the
// future). The Scheduler's periodic tick still runs each pair through the
// Strategy before refreshing; this query only filters out the back-off
// case cheaply in SQL.
func (r *Repository) DuePeriodicWork(ctx context.Context) ([]IngestionKey, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT symbol, dataset, interval FROM ingestion_state
		WHERE next_retry_at IS NULL OR next_retry_at <= ?`, nowISO())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IngestionKey
	for rows.Next() {
		var k IngestionKey
		if err := rows.Scan(&k.Symbol, &k.Dataset, &k.Interval); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// IngestionKey identifies one (symbol, dataset, interval) ingestion state
// row, the granularity the periodic scheduler tick dispatches work at.
type IngestionKey struct {
	Symbol   string
	Dataset  string
	Interval string
}

// StoredDailyDates returns the distinct dates with a stored daily bar for a
// symbol, used by the self-heal backfill gap detector.
func (r *Repository) StoredDailyDates(ctx context.Context, symbol string, since time.Time) (map[string]bool, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT DISTINCT date FROM raw_market_data_daily WHERE symbol = ? AND date >= ?`,
		symbol, since.UTC().Format(isoDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out[d] = true
	}
	return out, rows.Err()
}

// StoredIntradayTimestamps returns the distinct ts for a symbol+interval
// since a cutoff, used by the intraday self-heal backfill gap detector.
func (r *Repository) StoredIntradayTimestamps(ctx context.Context, symbol, interval string, since time.Time) (map[string]bool, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT DISTINCT ts FROM raw_market_data_intraday WHERE symbol = ? AND interval = ? AND ts >= ?`,
		symbol, interval, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out[ts] = true
	}
	return out, rows.Err()
}

// CountDailyBarsSince counts stored daily bars for a symbol at/after a date,
// used by the Signal Readiness Gate.
func (r *Repository) CountDailyBarsSince(ctx context.Context, symbol string, since time.Time) (int, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_market_data_daily WHERE symbol = ? AND date >= ?`,
		symbol, since.UTC().Format(isoDate)).Scan(&count)
	return count, err
}

// HasIndicatorRow reports whether an indicators_daily row exists for
// (symbol, date).
func (r *Repository) HasIndicatorRow(ctx context.Context, symbol string, date time.Time) (bool, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM indicators_daily WHERE symbol = ? AND date = ?`,
		symbol, date.UTC().Format(isoDate)).Scan(&count)
	return count > 0, err
}

func (r *Repository) withTxCount(ctx context.Context, fn func(*sql.Tx) (int, error)) (int, error) {
	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	n, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return n, err
	}
	return n, tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, ns.String); err == nil {
		return &t
	}
	if t, err := time.Parse(isoDate, ns.String); err == nil {
		return &t
	}
	return nil
}
