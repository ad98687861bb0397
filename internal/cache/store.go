// Package cache implements the freshness store: a durable ticker-to-
// snapshot map with TTL-based freshness classification. Snapshots are
// written by the refresh orchestrator and read by screening and the API;
// reads never trigger network activity.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/snapshot"
)

// Freshness classifies a cached snapshot relative to the current TTL.
type Freshness string

const (
	FreshnessFresh   Freshness = "fresh"
	FreshnessStale   Freshness = "stale"
	FreshnessMissing Freshness = "missing"
)

// Settings is the slice of the settings repository the store consults.
// Both values are read at call time so runtime changes apply immediately.
type Settings interface {
	CacheTTL() time.Duration
	CacheEnabled() bool
}

// Stats is a point-in-time rollup of the store. Fresh and stale are
// computed against the TTL at call time, so repeated calls drift as
// records age; that is expected.
type Stats struct {
	Total         int        `json:"total"`
	Fresh         int        `json:"fresh"`
	Stale         int        `json:"stale"`
	TTL           string     `json:"ttl"`
	LastWriteTime *time.Time `json:"last_write_time,omitempty"`
}

// Store is the SQLite-backed freshness store.
type Store struct {
	db       *sql.DB
	settings Settings
	log      zerolog.Logger
}

// NewStore creates a freshness store over the snapshots table.
func NewStore(db *sql.DB, settings Settings, log zerolog.Logger) *Store {
	return &Store{
		db:       db,
		settings: settings,
		log:      log.With().Str("component", "cache").Logger(),
	}
}

// Put overwrites any existing record for the snapshot's ticker with the
// current timestamp. Last write wins; the effect is immediately visible
// to subsequent reads. Writes are recorded even when cache reads are
// disabled, so re-enabling the cache serves the latest data.
func (s *Store) Put(snap *snapshot.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid snapshot: %w", err)
	}

	data, err := snap.Encode()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (ticker, data, written_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			data = excluded.data,
			written_at = excluded.written_at
	`, snapshot.NormalizeTicker(snap.Ticker), data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", snap.Ticker, err)
	}

	return nil
}

// GetIfFresh returns the stored snapshot only if it is fresh under the
// current TTL. Returns nil, nil when the record is missing, stale or the
// cache is disabled.
func (s *Store) GetIfFresh(ticker string) (*snapshot.Snapshot, error) {
	return s.GetIfFreshWithTTL(ticker, s.settings.CacheTTL())
}

// GetIfFreshWithTTL is GetIfFresh with an explicit TTL override.
func (s *Store) GetIfFreshWithTTL(ticker string, ttl time.Duration) (*snapshot.Snapshot, error) {
	if !s.settings.CacheEnabled() {
		return nil, nil
	}

	cutoff := time.Now().Add(-ttl).Unix()

	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM snapshots WHERE ticker = ? AND written_at >= ?",
		snapshot.NormalizeTicker(ticker), cutoff,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", ticker, err)
	}

	return snapshot.Decode(data)
}

// Get returns the stored snapshot regardless of age. This is the escape
// hatch for read-only serving paths that must never reach the network:
// stale data is better than no data. Returns nil, nil when missing or
// the cache is disabled.
func (s *Store) Get(ticker string) (*snapshot.Snapshot, error) {
	if !s.settings.CacheEnabled() {
		return nil, nil
	}

	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM snapshots WHERE ticker = ?",
		snapshot.NormalizeTicker(ticker),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", ticker, err)
	}

	return snapshot.Decode(data)
}

// GetBatch returns stored snapshots for the given tickers, ignoring TTL.
// Missing tickers are omitted. A corrupt stored payload is skipped, not
// propagated: one bad record must never take down a bulk screening pass.
func (s *Store) GetBatch(tickers []string) (map[string]*snapshot.Snapshot, error) {
	result := make(map[string]*snapshot.Snapshot, len(tickers))
	if !s.settings.CacheEnabled() || len(tickers) == 0 {
		return result, nil
	}

	for _, ticker := range tickers {
		key := snapshot.NormalizeTicker(ticker)

		var data []byte
		err := s.db.QueryRow("SELECT data FROM snapshots WHERE ticker = ?", key).Scan(&data)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot for %s: %w", key, err)
		}

		snap, err := snapshot.Decode(data)
		if err != nil {
			s.log.Warn().Str("ticker", key).Err(err).Msg("Skipping corrupt snapshot")
			continue
		}
		result[key] = snap
	}

	return result, nil
}

// GetAll returns every stored snapshot, ignoring TTL and skipping
// corrupt rows.
func (s *Store) GetAll() (map[string]*snapshot.Snapshot, error) {
	result := make(map[string]*snapshot.Snapshot)
	if !s.settings.CacheEnabled() {
		return result, nil
	}

	rows, err := s.db.Query("SELECT ticker, data FROM snapshots")
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ticker string
		var data []byte
		if err := rows.Scan(&ticker, &data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		snap, err := snapshot.Decode(data)
		if err != nil {
			s.log.Warn().Str("ticker", ticker).Err(err).Msg("Skipping corrupt snapshot")
			continue
		}
		result[ticker] = snap
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return result, nil
}

// ClassifyBatch returns the three-way freshness classification for each
// ticker against the current TTL. An empty input yields an empty map.
// The refresh orchestrator uses this to decide what still needs fetching.
func (s *Store) ClassifyBatch(tickers []string) (map[string]Freshness, error) {
	result := make(map[string]Freshness, len(tickers))
	if len(tickers) == 0 {
		return result, nil
	}

	enabled := s.settings.CacheEnabled()
	cutoff := time.Now().Add(-s.settings.CacheTTL()).Unix()

	for _, ticker := range tickers {
		key := snapshot.NormalizeTicker(ticker)

		if !enabled {
			result[key] = FreshnessMissing
			continue
		}

		var writtenAt int64
		err := s.db.QueryRow("SELECT written_at FROM snapshots WHERE ticker = ?", key).Scan(&writtenAt)
		if err == sql.ErrNoRows {
			result[key] = FreshnessMissing
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to classify %s: %w", key, err)
		}

		if writtenAt >= cutoff {
			result[key] = FreshnessFresh
		} else {
			result[key] = FreshnessStale
		}
	}

	return result, nil
}

// Clear deletes all records and returns the number removed.
func (s *Store) Clear() (int64, error) {
	result, err := s.db.Exec("DELETE FROM snapshots")
	if err != nil {
		return 0, fmt.Errorf("failed to clear snapshot cache: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared snapshots: %w", err)
	}

	s.log.Info().Int64("removed", removed).Msg("Snapshot cache cleared")
	return removed, nil
}

// Stats returns a point-in-time rollup computed against the current TTL.
func (s *Store) Stats() (Stats, error) {
	ttl := s.settings.CacheTTL()
	cutoff := time.Now().Add(-ttl).Unix()

	stats := Stats{TTL: ttl.String()}

	var lastWrite sql.NullInt64
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN written_at >= ? THEN 1 ELSE 0 END), 0),
			MAX(written_at)
		FROM snapshots
	`, cutoff).Scan(&stats.Total, &stats.Fresh, &lastWrite)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute cache stats: %w", err)
	}

	stats.Stale = stats.Total - stats.Fresh
	if lastWrite.Valid {
		t := time.Unix(lastWrite.Int64, 0).UTC()
		stats.LastWriteTime = &t
	}

	return stats, nil
}
