package settings

import (
	"database/sql"
	"testing"
	"time"

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
		CREATE TABLE settings (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			description TEXT,
			updated_at  INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(db, log)
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	repo := setupTestRepo(t)

	value, err := repo.Get("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSetAndGet(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Set("theme", "dark", nil))

	value, err := repo.Get("theme")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "dark", *value)
}

func TestSetUpserts(t *testing.T) {
	repo := setupTestRepo(t)

	desc := "ui theme"
	require.NoError(t, repo.Set("theme", "dark", &desc))
	require.NoError(t, repo.Set("theme", "light", nil))

	value, err := repo.Get("theme")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "light", *value)
}

func TestGetAll(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Set("a", "1", nil))
	require.NoError(t, repo.Set("b", "2", nil))

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)
}

func TestGetBoolFallsBackOnGarbage(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Set("flag", "not-a-bool", nil))
	assert.True(t, repo.GetBool("flag", true))
	assert.False(t, repo.GetBool("flag", false))

	require.NoError(t, repo.SetBool("flag", true))
	assert.True(t, repo.GetBool("flag", false))
}

func TestGetFloatFallsBackOnGarbage(t *testing.T) {
	repo := setupTestRepo(t)

	assert.Equal(t, 1.5, repo.GetFloat("ratio", 1.5))

	require.NoError(t, repo.SetFloat("ratio", 2.75))
	assert.Equal(t, 2.75, repo.GetFloat("ratio", 1.5))

	require.NoError(t, repo.Set("ratio", "garbage", nil))
	assert.Equal(t, 1.5, repo.GetFloat("ratio", 1.5))
}

func TestCacheTTLDefaultAndOverride(t *testing.T) {
	repo := setupTestRepo(t)

	assert.Equal(t, DefaultCacheTTL, repo.CacheTTL())

	require.NoError(t, repo.SetCacheTTL(10*time.Minute))
	assert.Equal(t, 10*time.Minute, repo.CacheTTL())

	// Non-positive values fall back to the default.
	require.NoError(t, repo.SetFloat(KeyCacheTTL, -5))
	assert.Equal(t, DefaultCacheTTL, repo.CacheTTL())
}

func TestRateLimitDelayDefaultAndOverride(t *testing.T) {
	repo := setupTestRepo(t)

	assert.Equal(t, DefaultRateLimitDelay, repo.RateLimitDelay())

	require.NoError(t, repo.SetRateLimitDelay(2*time.Second))
	assert.Equal(t, 2*time.Second, repo.RateLimitDelay())

	// Zero is a valid "no pacing" value; negatives clamp to zero.
	require.NoError(t, repo.SetRateLimitDelay(0))
	assert.Equal(t, time.Duration(0), repo.RateLimitDelay())

	require.NoError(t, repo.SetFloat(KeyRateLimitDelay, -1))
	assert.Equal(t, time.Duration(0), repo.RateLimitDelay())
}

func TestCacheEnabledAndOfflineModeDefaults(t *testing.T) {
	repo := setupTestRepo(t)

	assert.True(t, repo.CacheEnabled())
	assert.False(t, repo.OfflineMode())

	require.NoError(t, repo.SetBool(KeyCacheEnabled, false))
	require.NoError(t, repo.SetBool(KeyOfflineMode, true))

	assert.False(t, repo.CacheEnabled())
	assert.True(t, repo.OfflineMode())
}
