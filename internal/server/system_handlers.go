package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/screener/internal/cache"
)

// SystemHandlers serves host and store health information.
type SystemHandlers struct {
	log     zerolog.Logger
	dataDir string
	cache   *cache.Store
}

// SystemStatusResponse is the /api/system/status payload.
type SystemStatusResponse struct {
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	DiskPercent   float64     `json:"disk_percent"`
	DataDirMB     float64     `json:"data_dir_mb"`
	Cache         cache.Stats `json:"cache"`
	Timestamp     time.Time   `json:"timestamp"`
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(log zerolog.Logger, dataDir string, cacheStore *cache.Store) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("component", "system_handlers").Logger(),
		dataDir: dataDir,
		cache:   cacheStore,
	}
}

// HandleSystemStatus returns host resource usage and cache statistics
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := SystemStatusResponse{
		DataDirMB: h.getDirSizeMB(h.dataDir),
		Timestamp: time.Now().UTC(),
	}

	// Short sampling window keeps the endpoint responsive.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memStat.UsedPercent
	}

	if diskStat, err := disk.Usage(h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskPercent = diskStat.UsedPercent
	}

	if stats, err := h.cache.Stats(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get cache statistics")
	} else {
		response.Cache = stats
	}

	h.writeJSON(w, response)
}

// getDirSizeMB walks a directory and sums file sizes in megabytes.
func (h *SystemHandlers) getDirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
