// Package yahoo implements provider.Client against Yahoo Finance's
// unofficial chart/quote/news endpoints. It is typically configured as the
// fallback leg of a provider.Composite behind alphavantage, since it covers
// intraday bars and news that Alpha Vantage's free tier does not.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider"
)

const (
	chartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s"
	quoteURL = "https://query1.finance.yahoo.com/v7/finance/quote?symbols=%s"
	newsURL  = "https://query1.finance.yahoo.com/v1/finance/search?q=%s&newsCount=%d"
)

type Client struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(log zerolog.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

func (c *Client) Name() string { return "yahoo" }

func (c *Client) Capabilities() map[domain.DataType]bool {
	return map[domain.DataType]bool{
		domain.DataTypePriceHistorical:  true,
		domain.DataTypePriceIntraday15m: true,
		domain.DataTypePriceCurrent:     true,
		domain.DataTypeNews:             true,
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; refreshengine/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrTimeout, err)
		}
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrRateLimited, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrNotFound, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrUpstream5xx, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrUnknown, fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewProviderFailure(c.Name(), "getJSON", domain.ErrParse, err)
	}
	return nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
				Adjclose []struct {
					Adjclose []float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (c *Client) fetchChart(ctx context.Context, symbol, rng, interval string) (*chartResponse, error) {
	url := fmt.Sprintf(chartURL+"?range=%s&interval=%s", symbol, rng, interval)
	var out chartResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	if len(out.Chart.Result) == 0 {
		return nil, domain.NewProviderFailure(c.Name(), "fetchChart", domain.ErrNotFound, fmt.Errorf("no chart data"))
	}
	return &out, nil
}

func (c *Client) FetchPriceData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.DailyBar, error) {
	rng := q.Period
	if rng == "" {
		rng = "1y"
	}
	chart, err := c.fetchChart(ctx, symbol, rng, "1d")
	if err != nil {
		return nil, err
	}
	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]
	var adj []float64
	if len(result.Indicators.Adjclose) > 0 {
		adj = result.Indicators.Adjclose[0].Adjclose
	}

	bars := make([]domain.DailyBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) {
			break
		}
		bar := domain.DailyBar{
			Symbol: domain.NormalizeSymbol(symbol),
			Date:   time.Unix(ts, 0).UTC(),
			Source: c.Name(),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  at(quote.Close, i),
			Volume: atInt(quote.Volume, i),
		}
		if adj != nil {
			bar.AdjClose = at(adj, i)
		}
		bars = append(bars, provider.NormalizeDailyBar(bar))
	}
	return bars, nil
}

func (c *Client) FetchIntradayData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.IntradayBar, error) {
	rng := q.Period
	if rng == "" {
		rng = "5d"
	}
	chart, err := c.fetchChart(ctx, symbol, rng, "15m")
	if err != nil {
		return nil, err
	}
	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]domain.IntradayBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) {
			break
		}
		bars = append(bars, domain.IntradayBar{
			Symbol:   domain.NormalizeSymbol(symbol),
			TsUTC:    time.Unix(ts, 0).UTC(),
			Interval: "15m",
			Source:   c.Name(),
			Open:     at(quote.Open, i),
			High:     at(quote.High, i),
			Low:      at(quote.Low, i),
			Close:    at(quote.Close, i),
			Volume:   atInt(quote.Volume, i),
		})
	}
	return bars, nil
}

func (c *Client) FetchCurrentPrice(ctx context.Context, symbol string) (*provider.CurrentPrice, error) {
	var out struct {
		QuoteResponse struct {
			Result []struct {
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				RegularMarketVolume int64   `json:"regularMarketVolume"`
			} `json:"result"`
		} `json:"quoteResponse"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf(quoteURL, symbol), &out); err != nil {
		return nil, err
	}
	if len(out.QuoteResponse.Result) == 0 {
		return nil, domain.NewProviderFailure(c.Name(), "FetchCurrentPrice", domain.ErrNotFound, fmt.Errorf("no quote"))
	}
	r := out.QuoteResponse.Result[0]
	vol := r.RegularMarketVolume
	return &provider.CurrentPrice{Price: r.RegularMarketPrice, Volume: &vol}, nil
}

func (c *Client) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchFundamentals", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchEarnings", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchEarningsCalendar", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	if limit <= 0 {
		limit = 10
	}
	var out struct {
		News []struct {
			Title       string   `json:"title"`
			Publisher   string   `json:"publisher"`
			Link        string   `json:"link"`
			ProviderTs  int64    `json:"providerPublishTime"`
			RelatedTick []string `json:"relatedTickers"`
		} `json:"news"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf(newsURL, symbol, limit), &out); err != nil {
		return nil, err
	}
	articles := make([]domain.NewsArticle, 0, len(out.News))
	for _, n := range out.News {
		articles = append(articles, domain.NewsArticle{
			Symbol:         domain.NormalizeSymbol(symbol),
			PublishedAt:    time.Unix(n.ProviderTs, 0).UTC(),
			Title:          n.Title,
			Publisher:      n.Publisher,
			URL:            n.Link,
			Source:         c.Name(),
			RelatedSymbols: n.RelatedTick,
		})
	}
	return articles, nil
}

func (c *Client) FetchIndustryPeers(ctx context.Context, symbol string) (*provider.IndustryPeers, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchIndustryPeers", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*provider.FinancialStatements, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchFinancialStatements", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	return nil, domain.NewProviderFailure(c.Name(), "FetchActions", domain.ErrNotFound, fmt.Errorf("unsupported"))
}

func (c *Client) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, fmt.Sprintf(quoteURL, symbol), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) IsAvailable(ctx context.Context) provider.Availability {
	_, err := c.FetchCurrentPrice(ctx, "AAPL")
	return provider.Availability{Available: err == nil, LastError: err}
}

func at(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func atInt(s []int64, i int) int64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

var _ provider.Client = (*Client)(nil)
