package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantloop/refreshengine/internal/config"
	"github.com/quantloop/refreshengine/internal/domain"
	"github.com/quantloop/refreshengine/internal/provider"
	"github.com/quantloop/refreshengine/internal/readiness"
	"github.com/quantloop/refreshengine/internal/refresh"
	"github.com/quantloop/refreshengine/internal/repository"
	"github.com/quantloop/refreshengine/internal/workflow"
)

// handlers holds every dependency the command surface needs. It carries no
// state of its own beyond these references.
type handlers struct {
	log      zerolog.Logger
	cfg      *config.Config
	repo     *repository.Repository
	manager  *refresh.Manager
	orch     *workflow.Orchestrator
	gate     *readiness.Gate
	registry *provider.Registry
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// refreshRequest is the body for POST /api/refresh, mirroring the command
// table's refresh(symbol, data_types[], mode, force).
type refreshRequest struct {
	Symbol    string   `json:"symbol"`
	DataTypes []string `json:"data_types"`
	Mode      string   `json:"mode"`
	Force     bool     `json:"force"`
}

func (h *handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if len(req.DataTypes) == 0 {
		h.writeError(w, http.StatusBadRequest, "data_types must be non-empty")
		return
	}

	mode := domain.RefreshMode(req.Mode)
	switch mode {
	case domain.RefreshModeScheduled, domain.RefreshModeOnDemand, domain.RefreshModePeriodic, domain.RefreshModeLive:
	case "":
		mode = domain.RefreshModeOnDemand
	default:
		h.writeError(w, http.StatusBadRequest, "unrecognised mode")
		return
	}

	dataTypes := make([]domain.DataType, 0, len(req.DataTypes))
	for _, raw := range req.DataTypes {
		dt := domain.DataType(raw)
		if _, known := dt.DatasetInterval(); !known {
			h.writeError(w, http.StatusBadRequest, "unrecognised data type: "+raw)
			return
		}
		dataTypes = append(dataTypes, dt)
	}

	result := h.manager.RefreshData(r.Context(), req.Symbol, dataTypes, mode, req.Force)
	h.writeJSON(w, http.StatusOK, result)
}

// fetchHistoricalRequest is the body for POST /api/fetch-historical.
type fetchHistoricalRequest struct {
	Symbol               string `json:"symbol"`
	Period               string `json:"period"`
	IncludeFundamentals  bool   `json:"include_fundamentals"`
	CalculateIndicators  bool   `json:"calculate_indicators"`
}

func (h *handlers) handleFetchHistorical(w http.ResponseWriter, r *http.Request) {
	var req fetchHistoricalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	period := req.Period
	if period == "" {
		period = "1y"
	}

	// calculate_indicators is honoured implicitly: the Refresh Manager always
	// recomputes indicators after a successful price_historical fetch
	// (spec §4.6 step 3), so the flag only documents caller intent here.
	result := h.manager.RefreshHistorical(r.Context(), req.Symbol, period, req.IncludeFundamentals)

	workflowID, err := h.orch.CreateWorkflow(r.Context(), domain.WorkflowOnDemand, []string{domain.NormalizeSymbol(req.Symbol)})
	if err != nil {
		h.log.Warn().Err(err).Msg("fetch-historical: workflow record creation failed")
	}
	status := domain.RunCompleted
	if result.TotalFailed() > 0 && result.TotalSuccessful() == 0 {
		status = domain.RunFailed
	}
	if workflowID != "" {
		if err := h.orch.UpdateWorkflow(r.Context(), workflowID, status, domain.NewWorkflowMetadata()); err != nil {
			h.log.Warn().Err(err).Msg("fetch-historical: workflow record update failed")
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": workflowID,
		"result":      result,
	})
}

func (h *handlers) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	limit := queryInt(r, "limit", 50)

	records, err := h.repo.GetAudit(r.Context(), symbol, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *handlers) handleGetValidationReports(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	dt := domain.DataType(r.URL.Query().Get("data_type"))
	if _, known := dt.DatasetInterval(); !known {
		h.writeError(w, http.StatusBadRequest, "unrecognised data_type")
		return
	}
	limit := queryInt(r, "limit", 20)

	reports, err := h.repo.GetValidationReports(r.Context(), symbol, dt, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, reports)
}

func (h *handlers) handleGetSignalReadiness(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	signalType := r.URL.Query().Get("signal_type")
	if symbol == "" || signalType == "" {
		h.writeError(w, http.StatusBadRequest, "symbol and signal_type are required")
		return
	}

	report, err := h.gate.CheckReadiness(r.Context(), symbol, signalType)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *handlers) handleGetWorkflowExecutions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	var typ *domain.WorkflowType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := domain.WorkflowType(raw)
		typ = &t
	}

	workflows, err := h.orch.ListWorkflows(r.Context(), limit, typ)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, workflows)
}

func (h *handlers) handleGetWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if workflowID == "" {
		h.writeError(w, http.StatusBadRequest, "workflow id is required")
		return
	}

	summary, err := h.orch.GetSummary(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summary == nil {
		h.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// providerStatus is one entry in the getDataSourceConfig response.
type providerStatus struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
}

func (h *handlers) handleGetDataSourceConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	providers := make([]providerStatus, 0, len(h.registry.Names()))
	for _, name := range h.registry.Names() {
		client, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		avail := client.IsAvailable(ctx)
		enabled, priority := h.providerConfigFor(name)
		providers = append(providers, providerStatus{
			Name:      name,
			Enabled:   enabled,
			Priority:  priority,
			Available: avail.Available,
		})
	}

	primary := "alphavantage"
	fallback := "yahoo"
	if h.cfg.Yahoo.Priority < h.cfg.AlphaVantage.Priority {
		primary, fallback = fallback, primary
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"primary_provider":  primary,
		"fallback_provider": fallback,
		"providers":         providers,
	})
}

func (h *handlers) providerConfigFor(name string) (enabled bool, priority int) {
	switch name {
	case "alphavantage":
		return h.cfg.AlphaVantage.Enabled, h.cfg.AlphaVantage.Priority
	case "yahoo":
		return h.cfg.Yahoo.Enabled, h.cfg.Yahoo.Priority
	default:
		return false, 0
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode json response")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
