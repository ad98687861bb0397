// Package universe resolves named, ordered ticker lists. A universe is
// the unit the refresh orchestrator walks and screening commonly runs
// over (an index membership list, a sector list, a personal watch list).
package universe

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/snapshot"
)

// UnknownUniverseError is returned when a universe name does not exist.
// It is a pre-flight caller error: nothing has been mutated when it is
// returned.
type UnknownUniverseError struct {
	Name string
}

func (e *UnknownUniverseError) Error() string {
	return fmt.Sprintf("unknown universe: %s", e.Name)
}

// Repository handles universe database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new universe repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "universe").Logger(),
	}
}

// Resolve returns the ordered ticker list for a universe. Member order
// is the stored position order and is stable across calls; the refresh
// orchestrator depends on that for its retry bookkeeping.
func (r *Repository) Resolve(name string) ([]string, error) {
	name = normalizeName(name)

	var exists int
	err := r.db.QueryRow("SELECT COUNT(*) FROM universes WHERE name = ?", name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up universe %s: %w", name, err)
	}
	if exists == 0 {
		return nil, &UnknownUniverseError{Name: name}
	}

	rows, err := r.db.Query(
		"SELECT ticker FROM universe_members WHERE universe = ? ORDER BY position",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load members of %s: %w", name, err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan universe member: %w", err)
		}
		tickers = append(tickers, snapshot.NormalizeTicker(ticker))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating universe members: %w", err)
	}

	return tickers, nil
}

// ListKnown returns all universe names mapped to their descriptions.
func (r *Repository) ListKnown() (map[string]string, error) {
	rows, err := r.db.Query("SELECT name, description FROM universes")
	if err != nil {
		return nil, fmt.Errorf("failed to list universes: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var name, description string
		if err := rows.Scan(&name, &description); err != nil {
			return nil, fmt.Errorf("failed to scan universe: %w", err)
		}
		result[name] = description
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating universes: %w", err)
	}

	return result, nil
}

// Save creates or replaces a universe and its ordered member list in a
// single transaction.
func (r *Repository) Save(name, description string, tickers []string) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("universe name is required")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO universes (name, description)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description
	`, name, description)
	if err != nil {
		return fmt.Errorf("failed to save universe %s: %w", name, err)
	}

	if _, err := tx.Exec("DELETE FROM universe_members WHERE universe = ?", name); err != nil {
		return fmt.Errorf("failed to clear members of %s: %w", name, err)
	}

	for i, ticker := range tickers {
		_, err := tx.Exec(
			"INSERT INTO universe_members (universe, position, ticker) VALUES (?, ?, ?)",
			name, i, snapshot.NormalizeTicker(ticker),
		)
		if err != nil {
			return fmt.Errorf("failed to insert member %s into %s: %w", ticker, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit universe %s: %w", name, err)
	}

	r.log.Info().Str("universe", name).Int("members", len(tickers)).Msg("Universe saved")
	return nil
}

// SeedDefaults installs a starter universe on an empty table so a fresh
// install has something to refresh and screen. Existing data is never
// touched.
func (r *Repository) SeedDefaults() error {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM universes").Scan(&count); err != nil {
		return fmt.Errorf("failed to count universes: %w", err)
	}
	if count > 0 {
		return nil
	}

	return r.Save("megacaps", "Large-cap starter universe", []string{
		"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "BRK-B", "JPM", "JNJ", "V",
	})
}

// Delete removes a universe and its members.
func (r *Repository) Delete(name string) error {
	name = normalizeName(name)

	result, err := r.db.Exec("DELETE FROM universes WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete universe %s: %w", name, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &UnknownUniverseError{Name: name}
	}

	return nil
}

// normalizeName lower-cases and trims a universe name so lookups are
// case-insensitive.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
