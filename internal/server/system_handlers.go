package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/FenadoAI/autopilot/internal/database"
	"github.com/FenadoAI/autopilot/internal/reliability"
	"github.com/FenadoAI/autopilot/internal/scheduler"
	"github.com/FenadoAI/autopilot/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves operational endpoints
type SystemHandlers struct {
	log               zerolog.Logger
	dataDir           string
	databases         map[string]*database.DB
	jobs              map[string]scheduler.Job
	backups           *reliability.BackupService
	activeSimulations func() int
	startedAt         time.Time
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	Goroutines        int     `json:"goroutines"`
	CPUPercent        float64 `json:"cpu_percent"`
	RAMPercent        float64 `json:"ram_percent"`
	ActiveSimulations int     `json:"active_simulations"`
	BackupsEnabled    bool    `json:"backups_enabled"`
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	FreelistPages int64   `json:"freelist_pages"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// NewSystemHandlers creates system handlers.
// backups may be nil when backups are disabled.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	jobs map[string]scheduler.Job,
	backups *reliability.BackupService,
	activeSimulations func() int,
) *SystemHandlers {
	return &SystemHandlers{
		log:               log.With().Str("handler", "system").Logger(),
		dataDir:           dataDir,
		databases:         databases,
		jobs:              jobs,
		backups:           backups,
		activeSimulations: activeSimulations,
		startedAt:         time.Now(),
	}
}

// HandleSystemStatus returns process and host status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	active := 0
	if h.activeSimulations != nil {
		active = h.activeSimulations()
	}

	h.writeJSON(w, SystemStatusResponse{
		Status:            "healthy",
		Version:           version.Version,
		UptimeSeconds:     int64(time.Since(h.startedAt).Seconds()),
		Goroutines:        runtime.NumGoroutine(),
		CPUPercent:        cpuPercent,
		RAMPercent:        ramPercent,
		ActiveSimulations: active,
		BackupsEnabled:    h.backups != nil,
	})
}

// HandleDatabaseStats returns database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	response := DatabaseStatsResponse{
		Databases:   make([]DBInfo, 0, len(h.databases)),
		LastChecked: time.Now().Format(time.RFC3339),
	}

	for name, db := range h.databases {
		if db == nil {
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		info := DBInfo{
			Name:          name,
			Path:          db.Path(),
			SizeMB:        float64(stats.SizeBytes) / 1024 / 1024,
			WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
			FreelistPages: stats.FreelistCount,
		}
		response.TotalSizeMB += info.SizeMB + info.WALSizeMB
		response.Databases = append(response.Databases, info)
	}
	sort.Slice(response.Databases, func(i, j int) bool {
		return response.Databases[i].Name < response.Databases[j].Name
	})

	h.writeJSON(w, response)
}

// HandleListBackups lists remote backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		http.Error(w, "Backups are not configured", http.StatusNotFound)
		return
	}

	backups, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		http.Error(w, "Failed to list backups", http.StatusBadGateway)
		return
	}
	h.writeJSON(w, map[string]interface{}{"backups": backups})
}

// HandleListJobs lists the jobs that can be triggered manually
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	h.writeJSON(w, map[string]interface{}{"jobs": names})
}

// HandleTriggerJob runs a job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		http.Error(w, "Unknown job", http.StatusNotFound)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	start := time.Now()
	if err := job.Run(); err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": err.Error()})
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"status":      "success",
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// getSystemStats returns CPU and RAM usage percentages.
// The CPU sample is kept short so the endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeJSON writes a JSON response with a status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
