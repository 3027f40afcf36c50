package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/FenadoAI/autopilot/internal/modules/ledger"
	testingpkg "github.com/FenadoAI/autopilot/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// setupLedger creates a ledger database with a few entries
func setupLedger(t *testing.T) (*ledger.AuditLedger, func()) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")

	tick := 0
	l := ledger.NewAuditLedger(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled)).WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	})

	for _, e := range []domain.AuditEntry{
		{UserID: "alice", Kind: domain.AuditRuleCreated, RuleID: "rule-1"},
		{UserID: "alice", Kind: domain.AuditRuleApproved, RuleID: "rule-1"},
		{UserID: "bob", Kind: domain.AuditKillSwitch},
	} {
		_, err := l.Append(context.Background(), e)
		require.NoError(t, err)
	}
	return l, cleanup
}

func TestHandleGetAudit(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	l, cleanup := setupLedger(t)
	defer cleanup()

	handler := NewHandler(l, logger)

	req := httptest.NewRequest("GET", "/api/ledger/audit?user_id=alice", nil)
	w := httptest.NewRecorder()

	handler.HandleGetAudit(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]interface{}
	err := json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)

	assert.Contains(t, response, "data")
	data := response["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])

	entries := data["entries"].([]interface{})
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "rule_created", first["kind"])
}

func TestHandleGetAudit_TimeRange(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	l, cleanup := setupLedger(t)
	defer cleanup()

	handler := NewHandler(l, logger)

	from := base.Add(90 * time.Minute).Format(time.RFC3339)
	req := httptest.NewRequest("GET", "/api/ledger/audit?user_id=alice&from="+from, nil)
	w := httptest.NewRecorder()

	handler.HandleGetAudit(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])
}

func TestHandleGetAudit_BadRequest(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	l, cleanup := setupLedger(t)
	defer cleanup()

	handler := NewHandler(l, logger)

	for _, path := range []string{
		"/api/ledger/audit",
		"/api/ledger/audit?user_id=alice&from=yesterday",
	} {
		w := httptest.NewRecorder()
		handler.HandleGetAudit(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestHandleVerify(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	l, cleanup := setupLedger(t)
	defer cleanup()

	handler := NewHandler(l, logger)

	req := httptest.NewRequest("GET", "/api/ledger/verify", nil)
	w := httptest.NewRecorder()

	handler.HandleVerify(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(3), data["entries"])
}

func TestRouteIntegration(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	l, cleanup := setupLedger(t)
	defer cleanup()

	handler := NewHandler(l, logger)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"get audit", "GET", "/ledger/audit?user_id=bob", http.StatusOK},
		{"get audit without user", "GET", "/ledger/audit", http.StatusBadRequest},
		{"verify chain", "GET", "/ledger/verify", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}
