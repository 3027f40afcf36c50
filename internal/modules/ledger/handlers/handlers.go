// Package handlers provides HTTP handlers for the audit ledger.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// AuditReader reads and verifies the audit chain
type AuditReader interface {
	Query(ctx context.Context, userID string, r domain.TimeRange) ([]domain.AuditEntry, error)
	Verify(ctx context.Context) (*ledger.VerifyReport, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	audit AuditReader
	log   zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(
	audit AuditReader,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		audit: audit,
		log:   log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetAudit handles GET /api/ledger/audit?user_id=&from=&to=
func (h *Handler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	var tr domain.TimeRange
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &tr.From}, {"to", &tr.To}} {
		v := r.URL.Query().Get(p.key)
		if v == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid "+p.key+" timestamp", http.StatusBadRequest)
			return
		}
		*p.dst = parsed
	}

	entries, err := h.audit.Query(r.Context(), userID, tr)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to query audit entries")
		http.Error(w, "Failed to query audit entries", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleVerify handles GET /api/ledger/verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := h.audit.Verify(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to verify audit chain")
		http.Error(w, "Failed to verify audit chain", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !report.Valid {
		status = http.StatusConflict
	}

	response := map[string]interface{}{
		"data": report,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
