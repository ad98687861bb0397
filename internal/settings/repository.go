// Package settings provides the persisted runtime configuration store.
// Settings are key-value pairs in the config database and are read fresh
// on every access, so a change takes effect on the next operation that
// consults it without a restart.
package settings

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Well-known setting keys.
const (
	KeyCacheTTL       = "cache_ttl"        // seconds
	KeyRateLimitDelay = "rate_limit_delay" // seconds, fractional allowed
	KeyCacheEnabled   = "cache_enabled"
	KeyOfflineMode    = "offline_mode"
)

// Defaults applied when a key has never been set.
const (
	DefaultCacheTTL       = 24 * time.Hour
	DefaultRateLimitDelay = 500 * time.Millisecond
)

// Repository handles settings database operations.
// Values are stored as strings and converted on read; typed getters fall
// back to a default when the key is absent or unparsable.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new settings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get retrieves a setting value by key.
// Returns nil if the setting doesn't exist (not an error).
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set sets a setting value.
// Uses an upsert so insert and update are a single operation.
func (r *Repository) Set(key string, value string, description *string) error {
	now := time.Now().Unix()

	if description != nil {
		_, err := r.db.Exec(`
			INSERT INTO settings (key, value, description, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				description = excluded.description,
				updated_at = excluded.updated_at
		`, key, value, *description, now)
		return err
	}

	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

// GetAll retrieves all settings as a map.
func (r *Repository) GetAll() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get all settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return result, nil
}

// GetBool retrieves a boolean setting, falling back to defaultValue when
// the key is absent or not parseable.
func (r *Repository) GetBool(key string, defaultValue bool) bool {
	value, err := r.Get(key)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		return defaultValue
	}
	if value == nil {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(*value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetFloat retrieves a float setting with a fallback default.
func (r *Repository) GetFloat(key string, defaultValue float64) float64 {
	value, err := r.Get(key)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		return defaultValue
	}
	if value == nil {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// SetBool stores a boolean setting.
func (r *Repository) SetBool(key string, value bool) error {
	return r.Set(key, strconv.FormatBool(value), nil)
}

// SetFloat stores a float setting.
func (r *Repository) SetFloat(key string, value float64) error {
	return r.Set(key, strconv.FormatFloat(value, 'f', -1, 64), nil)
}

// CacheTTL returns the snapshot time-to-live used for freshness
// classification. Read at evaluation time, never cached in memory.
func (r *Repository) CacheTTL() time.Duration {
	seconds := r.GetFloat(KeyCacheTTL, DefaultCacheTTL.Seconds())
	if seconds <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(seconds * float64(time.Second))
}

// SetCacheTTL stores the snapshot time-to-live.
func (r *Repository) SetCacheTTL(ttl time.Duration) error {
	return r.SetFloat(KeyCacheTTL, ttl.Seconds())
}

// RateLimitDelay returns the minimum spacing between provider calls.
func (r *Repository) RateLimitDelay() time.Duration {
	seconds := r.GetFloat(KeyRateLimitDelay, DefaultRateLimitDelay.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// SetRateLimitDelay stores the minimum spacing between provider calls.
func (r *Repository) SetRateLimitDelay(delay time.Duration) error {
	return r.SetFloat(KeyRateLimitDelay, delay.Seconds())
}

// CacheEnabled reports whether cache reads serve stored snapshots.
// When disabled, reads behave as if the store were empty.
func (r *Repository) CacheEnabled() bool {
	return r.GetBool(KeyCacheEnabled, true)
}

// OfflineMode reports whether outbound provider calls are suppressed.
func (r *Repository) OfflineMode() bool {
	return r.GetBool(KeyOfflineMode, false)
}
