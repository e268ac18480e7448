// Package alphavantage implements provider.Client against the Alpha
// Vantage REST API, covering prices, fundamentals and earnings.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider"
)

const baseURL = "https://www.alphavantage.co/query"

// Client implements provider.Client against the Alpha Vantage API. Rate
// limiting and retries are applied by provider.Guarded; this client only
// knows how to shape requests and normalize responses.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient builds an Alpha Vantage client. timeout defaults to 10s.
func NewClient(apiKey string, log zerolog.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "alphavantage").Logger(),
	}
}

func (c *Client) Name() string { return "alphavantage" }

func (c *Client) Capabilities() map[domain.DataType]bool {
	return map[domain.DataType]bool{
		domain.DataTypePriceHistorical:  true,
		domain.DataTypePriceCurrent:     true,
		domain.DataTypeFundamentals:     true,
		domain.DataTypeEarnings:         true,
		domain.DataTypeIncomeStatement:  true,
		domain.DataTypeBalanceSheet:     true,
		domain.DataTypeCashFlow:         true,
		domain.DataTypeCorporateActions: true,
	}
}

func (c *Client) get(ctx context.Context, params url.Values) (map[string]any, error) {
	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrNetwork, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrTimeout, err)
		}
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrRateLimited, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrUnauthorized, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrUpstream5xx, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrUnknown, fmt.Errorf("status %d", resp.StatusCode))
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrParse, err)
	}

	if note, ok := out["Note"].(string); ok && note != "" {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrRateLimited, fmt.Errorf("%s", note))
	}
	if msg, ok := out["Error Message"].(string); ok && msg != "" {
		return nil, domain.NewProviderFailure(c.Name(), "get", domain.ErrNotFound, fmt.Errorf("%s", msg))
	}
	return out, nil
}

func (c *Client) FetchPriceData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.DailyBar, error) {
	params := url.Values{"function": {"TIME_SERIES_DAILY_ADJUSTED"}, "symbol": {symbol}, "outputsize": {"full"}}
	raw, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	series, _ := raw["Time Series (Daily)"].(map[string]any)
	bars := make([]domain.DailyBar, 0, len(series))
	for dateStr, v := range series {
		row, ok := v.(map[string]any)
		if !ok {
			continue
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if !q.Start.IsZero() && date.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && date.After(q.End) {
			continue
		}
		bar := domain.DailyBar{
			Symbol:   domain.NormalizeSymbol(symbol),
			Date:     date,
			Source:   c.Name(),
			Open:     parseFloat(row["1. open"]),
			High:     parseFloat(row["2. high"]),
			Low:      parseFloat(row["3. low"]),
			Close:    parseFloat(row["4. close"]),
			AdjClose: parseFloat(row["5. adjusted close"]),
			Volume:   int64(parseFloat(row["6. volume"])),
		}
		bars = append(bars, provider.NormalizeDailyBar(bar))
	}
	return bars, nil
}

func (c *Client) FetchIntradayData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.IntradayBar, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchIntradayData", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchCurrentPrice(ctx context.Context, symbol string) (*provider.CurrentPrice, error) {
	params := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}
	raw, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	quote, _ := raw["Global Quote"].(map[string]any)
	if len(quote) == 0 {
		return nil, domain.NewProviderFailure(c.Name(), "FetchCurrentPrice", domain.ErrNotFound, fmt.Errorf("no data"))
	}
	price := parseFloat(quote["05. price"])
	vol := int64(parseFloat(quote["06. volume"]))
	return &provider.CurrentPrice{Price: price, Volume: &vol}, nil
}

func (c *Client) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	params := url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}}
	raw, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.NewProviderFailure(c.Name(), "FetchFundamentals", domain.ErrNotFound, fmt.Errorf("no data"))
	}

	snap := &domain.FundamentalsSnapshot{
		Symbol:   domain.NormalizeSymbol(symbol),
		AsOfDate: time.Now().UTC(),
		Source:   c.Name(),
		Extras:   raw,
	}
	if sector, ok := raw["Sector"].(string); ok && sector != "" {
		snap.Sector = &sector
	}
	if industry, ok := raw["Industry"].(string); ok && industry != "" {
		snap.Industry = &industry
	}
	if mc := parseFloat(raw["MarketCapitalization"]); mc != 0 {
		snap.MarketCap = &mc
	}
	return snap, nil
}

func (c *Client) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	params := url.Values{"function": {"EARNINGS"}, "symbol": {symbol}}
	raw, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	quarterly, _ := raw["quarterlyEarnings"].([]any)
	records := make([]domain.EarningsRecord, 0, len(quarterly))
	for _, v := range quarterly {
		row, ok := v.(map[string]any)
		if !ok {
			continue
		}
		dateStr, _ := row["reportedDate"].(string)
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		est := parseFloatPtr(row["estimatedEPS"])
		act := parseFloatPtr(row["reportedEPS"])
		records = append(records, domain.EarningsRecord{
			Symbol:       domain.NormalizeSymbol(symbol),
			EarningsDate: date,
			EPSEstimate:  est,
			EPSActual:    act,
			SurprisePct:  domain.ComputeSurprisePct(est, act),
		})
	}
	return records, nil
}

func (c *Client) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchEarningsCalendar", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchNews", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchIndustryPeers(ctx context.Context, symbol string) (*provider.IndustryPeers, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchIndustryPeers", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*provider.FinancialStatements, error) {
	fn := "INCOME_STATEMENT"
	statements := &provider.FinancialStatements{Periodicity: periodicity(quarterly)}
	for _, kind := range []string{"INCOME_STATEMENT", "BALANCE_SHEET", "CASH_FLOW"} {
		fn = kind
		raw, err := c.get(ctx, url.Values{"function": {fn}, "symbol": {symbol}})
		if err != nil {
			return nil, err
		}
		key := "quarterlyReports"
		if !quarterly {
			key = "annualReports"
		}
		rows, _ := raw[key].([]any)
		parsed := make([]domain.FinancialStatement, 0, len(rows))
		for _, v := range rows {
			row, ok := v.(map[string]any)
			if !ok {
				continue
			}
			fiscalDate, _ := row["fiscalDateEnding"].(string)
			parsed = append(parsed, domain.FinancialStatement{
				Symbol:        domain.NormalizeSymbol(symbol),
				PeriodType:    periodicity(quarterly),
				StatementType: strings.ToLower(kind),
				FiscalPeriod:  fiscalDate,
				Source:        c.Name(),
				Payload:       row,
			})
		}
		switch kind {
		case "INCOME_STATEMENT":
			statements.IncomeStatement = parsed
		case "BALANCE_SHEET":
			statements.BalanceSheet = parsed
		case "CASH_FLOW":
			statements.CashFlow = parsed
		}
	}
	return statements, nil
}

func (c *Client) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	raw, err := c.get(ctx, url.Values{"function": {"DIVIDENDS"}, "symbol": {symbol}})
	if err != nil {
		return nil, err
	}
	rows, _ := raw["data"].([]any)
	actions := make([]domain.CorporateAction, 0, len(rows))
	for _, v := range rows {
		row, ok := v.(map[string]any)
		if !ok {
			continue
		}
		dateStr, _ := row["ex_dividend_date"].(string)
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		actions = append(actions, domain.CorporateAction{
			Symbol:     domain.NormalizeSymbol(symbol),
			ActionDate: date,
			ActionType: "dividend",
			Value:      parseFloat(row["amount"]),
			Payload:    row,
		})
	}
	return actions, nil
}

func (c *Client) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return c.get(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}})
}

func (c *Client) IsAvailable(ctx context.Context) provider.Availability {
	_, err := c.get(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {"IBM"}})
	return provider.Availability{Available: err == nil, LastError: err}
}

func periodicity(quarterly bool) string {
	if quarterly {
		return "quarterly"
	}
	return "annual"
}

func parseFloat(v any) float64 {
	s, ok := v.(string)
	if !ok {
		if f, ok := v.(float64); ok {
			return f
		}
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseFloatPtr(v any) *float64 {
	s, ok := v.(string)
	if !ok || s == "" || s == "None" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

var _ provider.Client = (*Client)(nil)
