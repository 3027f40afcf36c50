package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FenadoAI/autopilot/internal/config"
	"github.com/FenadoAI/autopilot/internal/di"
	"github.com/FenadoAI/autopilot/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Server, func()) {
	t.Helper()
	cfg := &config.Config{
		DataDir:     t.TempDir(),
		Port:        8080,
		DevMode:     true,
		CORSOrigins: []string{"*"},
		Policy:      config.DefaultPolicy(),
	}
	log := zerolog.New(nil).Level(zerolog.Disabled)

	container, jobs, err := di.Wire(cfg, log)
	require.NoError(t, err)

	s := New(Config{Log: log, Config: cfg, Container: container, Jobs: jobs})
	return s, container.Close
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, cleanup := setupServer(t)
	defer cleanup()

	w := get(t, s.Router(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "autopilot", body["service"])
}

func TestRoutesMounted(t *testing.T) {
	s, cleanup := setupServer(t)
	defer cleanup()

	w := get(t, s.Router(), "/api/autopilot/users/user-1/limits")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transaction_cap"`)

	w = get(t, s.Router(), "/api/ledger/verify")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, s.Router(), "/api/autopilot/rules/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystemStatus(t *testing.T) {
	s, cleanup := setupServer(t)
	defer cleanup()

	w := get(t, s.Router(), "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status SystemStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Zero(t, status.ActiveSimulations)
	assert.False(t, status.BackupsEnabled)
	assert.Positive(t, status.Goroutines)
}

func TestDatabaseStats(t *testing.T) {
	s, cleanup := setupServer(t)
	defer cleanup()

	w := get(t, s.Router(), "/api/system/databases")
	require.Equal(t, http.StatusOK, w.Code)

	var stats DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Len(t, stats.Databases, 2)
	assert.Equal(t, "autopilot", stats.Databases[0].Name)
	assert.Equal(t, "ledger", stats.Databases[1].Name)
}

func TestBackupsDisabled(t *testing.T) {
	s, cleanup := setupServer(t)
	defer cleanup()

	w := get(t, s.Router(), "/api/system/backups")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobs(t *testing.T) {
	s, cleanup := setupServer(t)
	defer cleanup()

	w := get(t, s.Router(), "/api/system/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rules:promote_dry_run")

	req := httptest.NewRequest(http.MethodPost, "/api/system/jobs/rules:expire_drafts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success"`)

	req = httptest.NewRequest(http.MethodPost, "/api/system/jobs/nope", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingJob struct{}

func (failingJob) Run() error   { return errors.New("disk full") }
func (failingJob) Name() string { return "fail" }

func TestTriggerJob_Failure(t *testing.T) {
	h := NewSystemHandlers(zerolog.Nop(), t.TempDir(), nil, map[string]scheduler.Job{"fail": failingJob{}}, nil, nil)
	r := chi.NewRouter()
	r.Post("/jobs/{name}", h.HandleTriggerJob)

	req := httptest.NewRequest(http.MethodPost, "/jobs/fail", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}
