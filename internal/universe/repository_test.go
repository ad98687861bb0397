package universe

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupTestRepo(t *testing.T) *Repository {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE universes (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE universe_members (
			universe TEXT NOT NULL REFERENCES universes(name) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			ticker   TEXT NOT NULL,
			PRIMARY KEY (universe, position)
		);
	`)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(db, log)
}

func TestResolveUnknownUniverse(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Resolve("nope")
	require.Error(t, err)

	var unknown *UnknownUniverseError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.Name)
}

func TestSaveAndResolvePreservesOrder(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Save("tech", "large cap tech", []string{"msft", "AAPL", "googl"}))

	tickers, err := repo.Resolve("tech")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL", "GOOGL"}, tickers)
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Save("Tech", "", []string{"AAPL"}))

	tickers, err := repo.Resolve("TECH")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, tickers)
}

func TestSaveReplacesMembers(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Save("tech", "", []string{"AAPL", "MSFT"}))
	require.NoError(t, repo.Save("tech", "updated", []string{"NVDA"}))

	tickers, err := repo.Resolve("tech")
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, tickers)

	known, err := repo.ListKnown()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tech": "updated"}, known)
}

func TestSaveEmptyNameFails(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.Save("   ", "", []string{"AAPL"})
	assert.Error(t, err)
}

func TestResolveEmptyUniverse(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Save("empty", "", nil))

	tickers, err := repo.Resolve("empty")
	require.NoError(t, err)
	assert.Empty(t, tickers)
}

func TestDelete(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Save("tech", "", []string{"AAPL"}))
	require.NoError(t, repo.Delete("tech"))

	_, err := repo.Resolve("tech")
	var unknown *UnknownUniverseError
	assert.True(t, errors.As(err, &unknown))

	err = repo.Delete("tech")
	assert.True(t, errors.As(err, &unknown))
}

func TestSeedDefaultsOnlyOnEmptyTable(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.SeedDefaults())

	known, err := repo.ListKnown()
	require.NoError(t, err)
	require.Contains(t, known, "megacaps")

	tickers, err := repo.Resolve("megacaps")
	require.NoError(t, err)
	assert.Contains(t, tickers, "AAPL")

	// A second seed with data present is a no-op.
	require.NoError(t, repo.Save("megacaps", "mine", []string{"MSFT"}))
	require.NoError(t, repo.SeedDefaults())

	tickers, err = repo.Resolve("megacaps")
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, tickers)
}
