package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/refreshengine/internal/config"
	"github.com/quantloop/refreshengine/internal/database"
	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/readiness"
	"github.com/quantloop/refreshengine/internal/refresh"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/workflow"
)

// fakeClient is a network-free provider.Client stub, the same shape the
// refresh package's own tests use, so exercising the command surface never
// makes a real HTTP call.
type fakeClient struct{}

func (f *fakeClient) Name() string { return "fake" }
func (f *fakeClient) FetchPriceData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.DailyBar, error) {
	return nil, nil
}
func (f *fakeClient) FetchIntradayData(ctx context.Context, symbol string, q provider.PriceQuery) ([]domain.IntradayBar, error) {
	return nil, nil
}
func (f *fakeClient) FetchCurrentPrice(ctx context.Context, symbol string) (*provider.CurrentPrice, error) {
	return nil, nil
}
func (f *fakeClient) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsSnapshot, error) {
	return nil, nil
}
func (f *fakeClient) FetchEarnings(ctx context.Context, symbol string) ([]domain.EarningsRecord, error) {
	return nil, nil
}
func (f *fakeClient) FetchEarningsCalendar(ctx context.Context, symbols []string, from, to time.Time) ([]domain.EarningsRecord, error) {
	return nil, nil
}
func (f *fakeClient) FetchNews(ctx context.Context, symbol string, limit int) ([]domain.NewsArticle, error) {
	return nil, nil
}
func (f *fakeClient) FetchIndustryPeers(ctx context.Context, symbol string) (*provider.IndustryPeers, error) {
	return nil, nil
}
func (f *fakeClient) FetchFinancialStatements(ctx context.Context, symbol string, quarterly bool) (*provider.FinancialStatements, error) {
	return nil, nil
}
func (f *fakeClient) FetchActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	return nil, nil
}
func (f *fakeClient) FetchSymbolDetails(ctx context.Context, symbol string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeClient) IsAvailable(ctx context.Context) provider.Availability {
	return provider.Availability{Available: true}
}
func (f *fakeClient) Capabilities() map[domain.DataType]bool {
	return map[domain.DataType]bool{domain.DataTypePriceHistorical: true}
}

var _ provider.Client = (*fakeClient)(nil)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	marketdataDB, err := database.New(database.Config{
		Path: t.TempDir() + "/marketdata.db", Profile: database.ProfileStandard, Name: "marketdata",
	})
	require.NoError(t, err)
	require.NoError(t, marketdataDB.Migrate())
	t.Cleanup(func() { _ = marketdataDB.Close() })

	workflowDB, err := database.New(database.Config{
		Path: t.TempDir() + "/workflow.db", Profile: database.ProfileLedger, Name: "workflow",
	})
	require.NoError(t, err)
	require.NoError(t, workflowDB.Migrate())
	t.Cleanup(func() { _ = workflowDB.Close() })

	log := zerolog.Nop()
	repo := repository.New(marketdataDB, log)
	orch := workflow.New(workflowDB, log)
	gate := readiness.New(repo)
	client := &fakeClient{}
	manager := refresh.New(client, repo, log, "06:00")

	registry := provider.NewRegistry()
	registry.Register(client)

	cfg := &config.Config{
		AlphaVantage: config.ProviderConfig{Enabled: true, Priority: 1},
		Yahoo:        config.ProviderConfig{Enabled: true, Priority: 2},
	}

	return New(Config{
		Log:      log,
		Cfg:      cfg,
		Repo:     repo,
		Manager:  manager,
		Orch:     orch,
		Gate:     gate,
		Registry: registry,
		Port:     0,
		DevMode:  true,
	})
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Refresh_RejectsMissingSymbol(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/refresh", `{"data_types":["price_historical"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Refresh_RejectsUnrecognisedDataType(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/refresh", `{"symbol":"AAPL","data_types":["not_a_real_type"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Refresh_RunsAgainstKnownDataType(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/refresh", `{"symbol":"AAPL","data_types":["price_historical"],"mode":"on_demand"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_GetAudit_RequiresSymbol(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/audit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetValidationReports_RejectsUnknownDataType(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/validation-reports?symbol=AAPL&data_type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetWorkflowSummary_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/workflows/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetDataSourceConfig_ReportsPriorityOrder(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/data-source-config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alphavantage", body["primary_provider"])
	assert.Equal(t, "yahoo", body["fallback_provider"])
}
