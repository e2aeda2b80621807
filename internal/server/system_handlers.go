package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/arena/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves health and host statistics
type SystemHandlers struct {
	log         zerolog.Logger
	version     string
	startupTime time.Time
	databases   []*database.DB
}

// NewSystemHandlers creates system handlers. Nil databases are skipped.
func NewSystemHandlers(log zerolog.Logger, version string, databases []*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		version:     version,
		startupTime: time.Now(),
		databases:   databases,
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Databases map[string]string `json:"databases"`
}

// SystemStatsResponse is the body of GET /api/system/stats
type SystemStatsResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// HandleHealth reports liveness and database reachability
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startupTime).Round(time.Second).String(),
		Databases: make(map[string]string),
	}
	status := http.StatusOK
	for _, db := range h.databases {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			resp.Databases[db.Name()] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Databases[db.Name()] = "ok"
	}

	writeJSON(w, h.log, status, resp)
}

// HandleStats reports host CPU and memory usage
func (h *SystemHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatsResponse{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
	}

	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	} else if len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	} else {
		resp.MemoryPercent = memStat.UsedPercent
		resp.MemoryUsedMB = memStat.Used / 1024 / 1024
		resp.MemoryTotalMB = memStat.Total / 1024 / 1024
	}

	writeJSON(w, h.log, http.StatusOK, resp)
}
