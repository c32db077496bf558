package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/guardrail/internal/database"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	db          *database.DB
	startupTime time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(db *database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		db:          db,
		startupTime: time.Now(),
	}
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	UptimeHours   float64 `json:"uptime_hours"`
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	FundCount     int     `json:"fund_count"`
	SecurityCount int     `json:"security_count"`
	ActiveRules   int     `json:"active_rules"`
	HeldTrades    int     `json:"held_trades"`
	PendingAlerts int     `json:"pending_alerts"`
}

// DatabaseStatsResponse represents database statistics
type DatabaseStatsResponse struct {
	Path        string  `json:"path"`
	SizeMB      float64 `json:"size_mb"`
	WALSizeMB   float64 `json:"wal_size_mb"`
	PageCount   int64   `json:"page_count"`
	PageSize    int64   `json:"page_size"`
	LastChecked string  `json:"last_checked"`
}

// HandleSystemStatus returns process health and headline entity counts
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()
	diskPercent := h.getDiskPercent()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeHours:   time.Since(h.startupTime).Hours(),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		DiskPercent:   diskPercent,
		FundCount:     h.count("SELECT COUNT(*) FROM funds"),
		SecurityCount: h.count("SELECT COUNT(*) FROM securities"),
		ActiveRules:   h.count("SELECT COUNT(*) FROM rules WHERE active = 1"),
		HeldTrades:    h.count("SELECT COUNT(*) FROM trades WHERE status = 'alert'"),
		PendingAlerts: h.count("SELECT COUNT(*) FROM alerts WHERE status = 'pending'"),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.db.HealthCheck(ctx); err != nil {
		h.log.Error().Err(err).Msg("Database health check failed")
		response.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleDatabaseStats returns database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	stats, err := h.db.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		http.Error(w, "failed to get database stats", http.StatusInternalServerError)
		return
	}

	response := DatabaseStatsResponse{
		Path:        h.db.Path(),
		SizeMB:      float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB:   float64(stats.WALSizeBytes) / 1024 / 1024,
		PageCount:   stats.PageCount,
		PageSize:    stats.PageSize,
		LastChecked: time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *SystemHandlers) count(query string) int {
	var n int
	if err := h.db.QueryRow(query).Scan(&n); err != nil && err != sql.ErrNoRows {
		h.log.Warn().Err(err).Str("query", query).Msg("Count query failed")
	}
	return n
}

// getSystemStats calculates CPU and RAM usage percentages.
// Samples CPU over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) getDiskPercent() float64 {
	usage, err := disk.Usage("/")
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
		return 0
	}
	return usage.UsedPercent
}
