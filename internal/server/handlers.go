package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/cache"
	"github.com/aristath/screener/internal/refresh"
	"github.com/aristath/screener/internal/screen"
	"github.com/aristath/screener/internal/settings"
	"github.com/aristath/screener/internal/snapshot"
	"github.com/aristath/screener/internal/universe"
)

// Handlers serves the core API: cache access, refresh control,
// screening, universes, and settings.
type Handlers struct {
	cache        *cache.Store
	orchestrator *refresh.Orchestrator
	settings     *settings.Repository
	universes    *universe.Repository
	maxRetries   int
	log          zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(
	cacheStore *cache.Store,
	orchestrator *refresh.Orchestrator,
	settingsRepo *settings.Repository,
	universeRepo *universe.Repository,
	maxRetries int,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		cache:        cacheStore,
		orchestrator: orchestrator,
		settings:     settingsRepo,
		universes:    universeRepo,
		maxRetries:   maxRetries,
		log:          log.With().Str("component", "handlers").Logger(),
	}
}

// HandleHealth returns a basic liveness response
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleCacheGet returns the cached snapshot for one ticker
// GET /api/cache/{ticker}?ignore_ttl=true
func (h *Handlers) HandleCacheGet(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	var (
		snap *snapshot.Snapshot
		err  error
	)
	if r.URL.Query().Get("ignore_ttl") == "true" {
		snap, err = h.cache.Get(ticker)
	} else {
		snap, err = h.cache.GetIfFresh(ticker)
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		h.writeError(w, http.StatusNotFound, "no cached snapshot")
		return
	}

	h.writeJSON(w, snap)
}

type batchRequest struct {
	Tickers []string `json:"tickers"`
}

// HandleCacheBatch returns cached snapshots for a list of tickers,
// omitting missing and corrupt entries
// POST /api/cache/batch
func (h *Handlers) HandleCacheBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snaps, err := h.cache.GetBatch(req.Tickers)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	classes, err := h.cache.ClassifyBatch(req.Tickers)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"snapshots": snaps,
		"freshness": classes,
	})
}

// HandleCacheStats returns aggregate cache statistics
// GET /api/cache/stats
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, stats)
}

// HandleCacheClear drops every cached snapshot
// DELETE /api/cache
func (h *Handlers) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.cache.Clear()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info().Int64("deleted", deleted).Msg("Cache cleared via API")
	h.writeJSON(w, map[string]int64{"deleted": deleted})
}

type refreshRequest struct {
	Universe   string `json:"universe"`
	DelayMs    *int   `json:"delay_ms,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

// HandleRefreshTrigger starts a background refresh of a universe.
// Responds 202 when started, 404 for an unknown universe, 409 when a
// refresh is already running
// POST /api/refresh
func (h *Handlers) HandleRefreshTrigger(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Universe == "" {
		h.writeError(w, http.StatusBadRequest, "universe is required")
		return
	}

	delay := h.settings.RateLimitDelay()
	if req.DelayMs != nil {
		delay = time.Duration(*req.DelayMs) * time.Millisecond
	}

	maxRetries := h.maxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	err := h.orchestrator.Start(req.Universe, delay, maxRetries)
	if err != nil {
		var unknown *universe.UnknownUniverseError
		switch {
		case errors.As(err, &unknown):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, refresh.ErrAlreadyRunning):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":   "started",
		"universe": req.Universe,
	}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// HandleRefreshStatus returns the current refresh state
// GET /api/refresh/status
func (h *Handlers) HandleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.orchestrator.State().Snapshot())
}

type screenRequest struct {
	Universe string           `json:"universe,omitempty"`
	Preset   string           `json:"preset,omitempty"`
	Criteria *screen.Criteria `json:"criteria,omitempty"`
}

type screenResponse struct {
	Scanned int                  `json:"scanned"`
	Matched int                  `json:"matched"`
	Results []*snapshot.Snapshot `json:"results"`
}

// HandleScreenRun evaluates criteria (ad hoc or a preset) against the
// cached snapshots of a universe, or the whole cache when no universe
// is given. Screening never triggers fetches
// POST /api/screen
func (h *Handlers) HandleScreenRun(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	criteria := screen.Criteria{}
	if req.Criteria != nil {
		criteria = *req.Criteria
	}
	if req.Preset != "" {
		preset, err := screen.Preset(req.Preset)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		criteria = preset
	}

	records, err := h.loadRecords(req.Universe)
	if err != nil {
		var unknown *universe.UnknownUniverseError
		if errors.As(err, &unknown) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	matched := screen.Filter(records, criteria)
	h.writeJSON(w, screenResponse{
		Scanned: len(records),
		Matched: len(matched),
		Results: matched,
	})
}

// loadRecords reads the screening input set from the cache, in universe
// order when a universe is named and in ticker order otherwise.
func (h *Handlers) loadRecords(universeName string) ([]*snapshot.Snapshot, error) {
	if universeName != "" {
		tickers, err := h.universes.Resolve(universeName)
		if err != nil {
			return nil, err
		}
		snaps, err := h.cache.GetBatch(tickers)
		if err != nil {
			return nil, err
		}
		records := make([]*snapshot.Snapshot, 0, len(snaps))
		for _, ticker := range tickers {
			if snap, ok := snaps[ticker]; ok {
				records = append(records, snap)
			}
		}
		return records, nil
	}

	snaps, err := h.cache.GetAll()
	if err != nil {
		return nil, err
	}
	tickers := make([]string, 0, len(snaps))
	for ticker := range snaps {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	records := make([]*snapshot.Snapshot, 0, len(snaps))
	for _, ticker := range tickers {
		records = append(records, snaps[ticker])
	}
	return records, nil
}

// HandleScreenPresets returns the named criteria presets
// GET /api/screen/presets
func (h *Handlers) HandleScreenPresets(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, screen.Presets())
}

// HandleUniversesList returns the known universes
// GET /api/universes
func (h *Handlers) HandleUniversesList(w http.ResponseWriter, r *http.Request) {
	known, err := h.universes.ListKnown()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, known)
}

// HandleUniverseGet returns a universe's ordered ticker list
// GET /api/universes/{name}
func (h *Handlers) HandleUniverseGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tickers, err := h.universes.Resolve(name)
	if err != nil {
		var unknown *universe.UnknownUniverseError
		if errors.As(err, &unknown) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"name":    name,
		"tickers": tickers,
	})
}

type universeSaveRequest struct {
	Description string   `json:"description"`
	Tickers     []string `json:"tickers"`
}

// HandleUniverseSave creates or replaces a universe
// PUT /api/universes/{name}
func (h *Handlers) HandleUniverseSave(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req universeSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tickers) == 0 {
		h.writeError(w, http.StatusBadRequest, "tickers are required")
		return
	}

	if err := h.universes.Save(name, req.Description, req.Tickers); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"name":  name,
		"count": len(req.Tickers),
	})
}

// HandleUniverseDelete removes a universe
// DELETE /api/universes/{name}
func (h *Handlers) HandleUniverseDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.universes.Delete(name); err != nil {
		var unknownErr *universe.UnknownUniverseError
		if errors.As(err, &unknownErr) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]string{"deleted": name})
}

// HandleSettingsList returns all settings
// GET /api/settings
func (h *Handlers) HandleSettingsList(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.GetAll()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, all)
}

type settingSetRequest struct {
	Value       string  `json:"value"`
	Description *string `json:"description,omitempty"`
}

// HandleSettingsSet writes one setting
// PUT /api/settings/{key}
func (h *Handlers) HandleSettingsSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req settingSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.Set(key, req.Value, req.Description); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]string{key: req.Value})
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode error response")
	}
}
