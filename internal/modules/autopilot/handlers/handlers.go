// Package handlers provides HTTP handlers for the autopilot API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/autopilot"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxBodyBytes bounds request bodies; profiles with many categories stay well below it
const maxBodyBytes = 1 << 20

// Handler handles autopilot HTTP requests
type Handler struct {
	service *autopilot.Service
	log     zerolog.Logger
}

// NewHandler creates a new autopilot handler
func NewHandler(
	service *autopilot.Service,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "autopilot").Logger(),
	}
}

type simulationRequest struct {
	Profile  domain.FinancialProfile `json:"profile"`
	Scenario domain.ScenarioEnvelope `json:"scenario"`
	Mode     string                  `json:"mode"`
	Trials   int                     `json:"trials"`
	Seed     *int64                  `json:"seed"`
}

type createRuleRequest struct {
	Recommendation domain.RecommendedRule `json:"recommendation"`
	Justification  *domain.Justification  `json:"justification,omitempty"`
}

type limitsRequest struct {
	TransactionCap decimal.Decimal `json:"transaction_cap"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

// HandleRunSimulation handles POST /api/autopilot/simulations
func (h *Handler) HandleRunSimulation(w http.ResponseWriter, r *http.Request) {
	var req simulationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	scenario, err := req.Scenario.Decode()
	if err != nil {
		h.writeError(w, err)
		return
	}
	mode := domain.ModeBalanced
	if req.Mode != "" {
		mode, err = domain.ParseMode(req.Mode)
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	result, err := h.service.RunSimulation(r.Context(), autopilot.SimulationRequest{
		Profile:  req.Profile,
		Scenario: scenario,
		Mode:     mode,
		Trials:   req.Trials,
		Seed:     req.Seed,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, result)
}

// HandleListSimulations handles GET /api/autopilot/users/{userID}/simulations
func (h *Handler) HandleListSimulations(w http.ResponseWriter, r *http.Request) {
	runs := h.service.ActiveSimulations(chi.URLParam(r, "userID"))
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleCancelSimulations handles DELETE /api/autopilot/users/{userID}/simulations
func (h *Handler) HandleCancelSimulations(w http.ResponseWriter, r *http.Request) {
	n := h.service.CancelSimulations(chi.URLParam(r, "userID"))
	h.writeData(w, http.StatusOK, map[string]interface{}{"cancelled": n})
}

// HandleCreateRule handles POST /api/autopilot/users/{userID}/rules
func (h *Handler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	rule, err := h.service.CreateRule(r.Context(), chi.URLParam(r, "userID"), req.Recommendation, req.Justification)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, rule)
}

// HandleListRules handles GET /api/autopilot/users/{userID}/rules
func (h *Handler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// HandleGetRule handles GET /api/autopilot/rules/{ruleID}
func (h *Handler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, rule)
}

// ruleOp is a single-rule lifecycle operation
type ruleOp func(ctx context.Context, ruleID string) (*domain.AutopilotRule, error)

// ruleAction adapts a lifecycle operation to a handler
func (h *Handler) ruleAction(op ruleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := op(r.Context(), chi.URLParam(r, "ruleID"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeData(w, http.StatusOK, rule)
	}
}

// HandleKillSwitch handles POST /api/autopilot/users/{userID}/kill-switch
func (h *Handler) HandleKillSwitch(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	paused, err := h.service.KillSwitch(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Warn().Str("user_id", userID).Int("paused", len(paused)).Msg("Kill switch engaged")
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"paused": paused,
		"count":  len(paused),
	})
}

// HandleGetLimits handles GET /api/autopilot/users/{userID}/limits
func (h *Handler) HandleGetLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.service.GetLimits(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, limits)
}

// HandleSetLimits handles PUT /api/autopilot/users/{userID}/limits
func (h *Handler) HandleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	limits, err := h.service.SetTransactionCap(r.Context(), chi.URLParam(r, "userID"), req.TransactionCap)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, limits)
}

// HandleEvent handles POST /api/autopilot/users/{userID}/events
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	if err := decodeJSON(w, r, &event); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	executions, err := h.service.HandleEvent(r.Context(), chi.URLParam(r, "userID"), event)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

// HandleListExecutions handles GET /api/autopilot/users/{userID}/executions?limit=
func (h *Handler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	executions, err := h.service.ListExecutions(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

// HandleGetExecution handles GET /api/autopilot/executions/{executionID}
func (h *Handler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.service.GetExecution(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, exec)
}

// HandleRollback handles POST /api/autopilot/executions/{executionID}/rollback
func (h *Handler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.RollbackExecution(r.Context(), chi.URLParam(r, "executionID"), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, result)
}

// HandleGetAudit handles GET /api/autopilot/users/{userID}/audit?from=&to=
func (h *Handler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "Invalid from timestamp", http.StatusBadRequest)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "Invalid to timestamp", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetAuditLog(r.Context(), chi.URLParam(r, "userID"), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidScenarioParameter),
		errors.Is(err, domain.ErrInsufficientHistory),
		errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrRuleConflict),
		errors.Is(err, domain.ErrAlreadyRolledBack),
		errors.Is(err, domain.ErrNotReversible):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRollbackWindowExpired):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
		http.Error(w, "Internal server error", status)
		return
	}
	h.log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	h.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

// writeData wraps data in the standard envelope
func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
