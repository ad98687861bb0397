package refresh

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/screener/internal/cache"
	"github.com/aristath/screener/internal/fetch"
	"github.com/aristath/screener/internal/snapshot"
	"github.com/aristath/screener/internal/universe"
)

type fakeResolver struct {
	universes map[string][]string
}

func (r *fakeResolver) Resolve(name string) ([]string, error) {
	tickers, ok := r.universes[name]
	if !ok {
		return nil, &universe.UnknownUniverseError{Name: name}
	}
	return tickers, nil
}

// fakeCache records puts and serves a scripted freshness classification.
type fakeCache struct {
	stored    map[string]*snapshot.Snapshot
	freshness map[string]cache.Freshness
	putErr    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{stored: make(map[string]*snapshot.Snapshot)}
}

func (c *fakeCache) Put(snap *snapshot.Snapshot) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.stored[snap.Ticker] = snap
	return nil
}

func (c *fakeCache) ClassifyBatch(tickers []string) (map[string]cache.Freshness, error) {
	result := make(map[string]cache.Freshness, len(tickers))
	for _, ticker := range tickers {
		if class, ok := c.freshness[ticker]; ok {
			result[ticker] = class
		} else {
			result[ticker] = cache.FreshnessMissing
		}
	}
	return result, nil
}

// scriptedAdapter returns a per-ticker sequence of results; once the
// sequence is exhausted the last entry repeats. Calls are counted.
type scriptedAdapter struct {
	script map[string][]fetch.Result
	calls  map[string]int
	onCall func(ticker string)
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		script: make(map[string][]fetch.Result),
		calls:  make(map[string]int),
	}
}

func (a *scriptedAdapter) set(ticker string, results ...fetch.Result) {
	a.script[ticker] = results
}

func (a *scriptedAdapter) FetchOne(ctx context.Context, ticker string) fetch.Result {
	n := a.calls[ticker]
	a.calls[ticker] = n + 1

	if a.onCall != nil {
		a.onCall(ticker)
	}

	results := a.script[ticker]
	if len(results) == 0 {
		return fetch.Failed(fmt.Errorf("no script for %s", ticker))
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n]
}

func fresh(ticker string) fetch.Result {
	return fetch.Result{Outcome: fetch.OutcomeFresh, Snapshot: snapshot.New(ticker)}
}

func stale(ticker string) fetch.Result {
	return fetch.Result{Outcome: fetch.OutcomeStale, Snapshot: snapshot.New(ticker)}
}

func failed() fetch.Result {
	return fetch.Failed(errors.New("provider unavailable"))
}

func newTestOrchestrator(resolver Resolver, adapter fetch.Adapter, cacheStore Cache) *Orchestrator {
	o := NewOrchestrator(Config{
		Resolver: resolver,
		Adapter:  adapter,
		Cache:    cacheStore,
		Pacer:    NewPacer(0),
		State:    NewState(),
		Log:      zerolog.New(nil).Level(zerolog.Disabled),
	})
	o.retryPause = 0
	return o
}

func TestRefreshEndToEndWithRetryRecovery(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A", "B", "C"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", failed(), fresh("B"))
	adapter.set("C", fresh("C"))
	store := newFakeCache()

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "core", 0, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Fresh)
	assert.Equal(t, 0, stats.Stale)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 1, stats.RetryPasses)

	assert.Equal(t, 1, adapter.calls["A"])
	assert.Equal(t, 2, adapter.calls["B"])
	assert.Equal(t, 1, adapter.calls["C"])

	assert.Len(t, store.stored, 3)
	assert.Contains(t, store.stored, "A")
	assert.Contains(t, store.stored, "B")
	assert.Contains(t, store.stored, "C")

	assert.False(t, o.State().Running())
}

func TestRefreshCountsAlwaysSumToTotal(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"mix": {"A", "B", "C", "D"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", failed())
	adapter.set("C", stale("C"))
	adapter.set("D", fresh("D"))
	store := newFakeCache()

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "mix", 0, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, stats.Total, stats.Fresh+stats.Stale+stats.Failed)
	assert.Equal(t, 2, stats.Fresh)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 1, stats.Failed)

	// The degraded snapshot was still written.
	assert.Contains(t, store.stored, "C")
}

func TestRefreshRetryExhaustion(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"one": {"A"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", failed())
	store := newFakeCache()

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "one", 0, 2)
	require.NoError(t, err)

	// Initial pass plus two retry passes.
	assert.Equal(t, 3, adapter.calls["A"])
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.RetryPasses)
	assert.Empty(t, store.stored)
}

func TestRefreshStaleRetriedButKept(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"one": {"A"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", stale("A"))
	store := newFakeCache()

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "one", 0, 1)
	require.NoError(t, err)

	// Degraded on both passes: retried, stored, counted stale.
	assert.Equal(t, 2, adapter.calls["A"])
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Fetched)
	assert.Contains(t, store.stored, "A")
}

func TestRefreshStaleToFreshRecoveryCorrectsTally(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"two": {"A", "B"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", stale("B"), fresh("B"))
	store := newFakeCache()

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "two", 0, 1)
	require.NoError(t, err)

	// B's stale pass-0 result is superseded by the fresh retry: the
	// tally reflects the last outcome only.
	assert.Equal(t, 2, adapter.calls["B"])
	assert.Equal(t, 2, stats.Fresh)
	assert.Equal(t, 0, stats.Stale)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.RetryPasses)
	assert.Contains(t, store.stored, "B")
}

func TestRefreshSkipsAlreadyFresh(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A", "B"}}}
	adapter := newScriptedAdapter()
	adapter.set("B", fresh("B"))
	store := newFakeCache()
	store.freshness = map[string]cache.Freshness{"A": cache.FreshnessFresh}

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "core", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, adapter.calls["A"])
	assert.Equal(t, 1, adapter.calls["B"])
	assert.Equal(t, 2, stats.Fresh)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Fetched)
}

func TestRefreshUnknownUniverse(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{}}
	o := newTestOrchestrator(resolver, newScriptedAdapter(), newFakeCache())

	_, err := o.Refresh(context.Background(), "nope", 0, 0)
	require.Error(t, err)

	var unknown *universe.UnknownUniverseError
	assert.True(t, errors.As(err, &unknown))

	// Pre-flight failure leaves no trace in the state.
	snap := o.State().Snapshot()
	assert.False(t, snap.Running)
	assert.Nil(t, snap.LastResult)
}

func TestRefreshEmptyUniverse(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"empty": {}}}
	o := newTestOrchestrator(resolver, newScriptedAdapter(), newFakeCache())

	stats, err := o.Refresh(context.Background(), "empty", 0, 3)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Fresh)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.RetryPasses)
	assert.False(t, o.State().Running())
}

func TestRefreshMutualExclusion(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A"}}}

	release := make(chan struct{})
	started := make(chan struct{})
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.onCall = func(string) {
		close(started)
		<-release
	}

	o := newTestOrchestrator(resolver, adapter, newFakeCache())

	done := make(chan Stats, 1)
	go func() {
		stats, _ := o.Refresh(context.Background(), "core", 0, 0)
		done <- stats
	}()

	<-started
	assert.True(t, o.State().Running())

	_, err := o.Refresh(context.Background(), "core", 0, 0)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	stats := <-done
	assert.Equal(t, 1, stats.Fresh)
	assert.False(t, o.State().Running())

	// A new refresh is accepted once the first finished.
	adapter.onCall = nil
	_, err = o.Refresh(context.Background(), "core", 0, 0)
	assert.NoError(t, err)
}

func TestRefreshPanickingAdapterIsContained(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A", "B"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", fresh("B"))
	adapter.onCall = func(ticker string) {
		if ticker == "A" {
			panic("adapter exploded")
		}
	}

	o := newTestOrchestrator(resolver, adapter, newFakeCache())

	stats, err := o.Refresh(context.Background(), "core", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Fresh)
	assert.False(t, o.State().Running())
}

func TestRefreshCancellationMarksRemainingFailed(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A", "B", "C"}}}

	ctx, cancel := context.WithCancel(context.Background())
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", fresh("B"))
	adapter.set("C", fresh("C"))
	adapter.onCall = func(ticker string) {
		if ticker == "B" {
			cancel()
		}
	}

	o := newTestOrchestrator(resolver, adapter, newFakeCache())

	stats, err := o.Refresh(ctx, "core", 0, 0)
	assert.Error(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Fresh)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, adapter.calls["C"])
	assert.False(t, o.State().Running())
}

func TestRefreshPutFailureDoesNotAbort(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A", "B"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", fresh("B"))
	store := newFakeCache()
	store.putErr = errors.New("disk full")

	o := newTestOrchestrator(resolver, adapter, store)

	stats, err := o.Refresh(context.Background(), "core", 0, 0)
	require.NoError(t, err)

	// The fetch outcome stands even when the write failed.
	assert.Equal(t, 2, stats.Fresh)
	assert.False(t, o.State().Running())
}

func TestStateSnapshotDuringRun(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A", "B"}}}

	release := make(chan struct{})
	progressed := make(chan struct{})
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))
	adapter.set("B", fresh("B"))
	var once bool
	adapter.onCall = func(ticker string) {
		if ticker == "B" && !once {
			once = true
			close(progressed)
			<-release
		}
	}

	o := newTestOrchestrator(resolver, adapter, newFakeCache())

	done := make(chan struct{})
	go func() {
		_, _ = o.Refresh(context.Background(), "core", 0, 0)
		close(done)
	}()

	<-progressed
	snap := o.State().Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "core", snap.Universe)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, 2, snap.Progress.Total)
	assert.Equal(t, 1, snap.Progress.Completed)

	close(release)
	<-done

	snap = o.State().Snapshot()
	assert.False(t, snap.Running)
	require.NotNil(t, snap.LastResult)
	assert.Equal(t, 2, snap.LastResult.Fresh)
	assert.NotNil(t, snap.LastRefresh)
}

func TestStartRunsInBackground(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{"core": {"A"}}}
	adapter := newScriptedAdapter()
	adapter.set("A", fresh("A"))

	o := newTestOrchestrator(resolver, adapter, newFakeCache())

	require.NoError(t, o.Start("core", 0, 0))

	// Unknown universe still fails synchronously.
	err := o.Start("nope", 0, 0)
	var unknown *universe.UnknownUniverseError
	if !errors.As(err, &unknown) && !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected unknown universe or already running, got %v", err)
	}

	// The background run finishes and resets the state.
	require.Eventually(t, func() bool {
		return !o.State().Running() && o.State().Snapshot().LastResult != nil
	}, time.Second, 5*time.Millisecond)
}
