// Package refresh implements the batch refresh orchestrator: it walks a
// universe of securities under the pacer's rate limit, writes fetched
// snapshots into the cache, retries degraded and failed identifiers in
// bounded passes, and publishes live progress.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/cache"
	"github.com/aristath/screener/internal/events"
	"github.com/aristath/screener/internal/fetch"
	"github.com/aristath/screener/internal/snapshot"
)

// defaultRetryPause separates retry passes from each other, giving
// transient provider issues a moment to clear. Distinct from the
// per-request pacer delay.
const defaultRetryPause = 2 * time.Second

// Resolver resolves a universe name into its ordered ticker list.
type Resolver interface {
	Resolve(name string) ([]string, error)
}

// Cache is the slice of the freshness store the orchestrator uses.
type Cache interface {
	Put(snap *snapshot.Snapshot) error
	ClassifyBatch(tickers []string) (map[string]cache.Freshness, error)
}

// Orchestrator runs refreshes. Exactly one run is in flight at a time,
// enforced by the shared State; a second trigger is rejected with
// ErrAlreadyRunning.
type Orchestrator struct {
	resolver   Resolver
	adapter    fetch.Adapter
	cache      Cache
	pacer      *Pacer
	state      *State
	bus        *events.Bus
	log        zerolog.Logger
	retryPause time.Duration
}

// Config holds orchestrator dependencies.
type Config struct {
	Resolver Resolver
	Adapter  fetch.Adapter
	Cache    Cache
	Pacer    *Pacer
	State    *State
	Bus      *events.Bus
	Log      zerolog.Logger
}

// NewOrchestrator creates a refresh orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		resolver:   cfg.Resolver,
		adapter:    cfg.Adapter,
		cache:      cfg.Cache,
		pacer:      cfg.Pacer,
		state:      cfg.State,
		bus:        cfg.Bus,
		log:        cfg.Log.With().Str("component", "refresh").Logger(),
		retryPause: defaultRetryPause,
	}
}

// startedEvent is published when a run begins.
type startedEvent struct {
	RunID    string `json:"run_id"`
	Universe string `json:"universe"`
	Total    int    `json:"total"`
}

// progressEvent is published after every fetch attempt.
type progressEvent struct {
	RunID    string   `json:"run_id"`
	Universe string   `json:"universe"`
	Ticker   string   `json:"ticker"`
	Outcome  string   `json:"outcome"`
	Progress Progress `json:"progress"`
}

// completedEvent is published when a run finishes, successfully or not.
type completedEvent struct {
	RunID string `json:"run_id"`
	Stats Stats  `json:"stats"`
}

// Refresh walks the named universe and refreshes its snapshots.
//
// Identifiers already fresh in the cache are counted and skipped.
// Pass 0 sweeps the remainder in universe order; identifiers that come
// back stale or failed are retried in up to maxRetries further passes
// over the (stable-ordered) retry set. delay is the minimum spacing
// between provider calls for this run.
//
// Only an unknown universe or an already-running refresh prevent a run
// from starting. Everything else, including a panicking adapter,
// degrades to a per-identifier failure in the final tally. Cancelling
// ctx stops the run between attempts; the run still publishes its
// partial stats and always leaves the state idle.
func (o *Orchestrator) Refresh(ctx context.Context, universeName string, delay time.Duration, maxRetries int) (Stats, error) {
	tickers, err := o.resolver.Resolve(universeName)
	if err != nil {
		return Stats{}, err
	}

	if err := o.state.begin(universeName, len(tickers)); err != nil {
		return Stats{}, err
	}

	return o.run(ctx, universeName, tickers, delay, maxRetries)
}

// Start performs the pre-flight checks synchronously, then runs the
// refresh in the background. Callers get UnknownUniverseError or
// ErrAlreadyRunning immediately; the run itself reports through the
// state and the event bus.
func (o *Orchestrator) Start(universeName string, delay time.Duration, maxRetries int) error {
	tickers, err := o.resolver.Resolve(universeName)
	if err != nil {
		return err
	}

	if err := o.state.begin(universeName, len(tickers)); err != nil {
		return err
	}

	go func() {
		if _, err := o.run(context.Background(), universeName, tickers, delay, maxRetries); err != nil {
			o.log.Error().Err(err).Str("universe", universeName).Msg("Background refresh failed")
		}
	}()

	return nil
}

// run executes the refresh passes. The caller must already hold the
// running flag via state.begin; run always releases it.
func (o *Orchestrator) run(ctx context.Context, universeName string, tickers []string, delay time.Duration, maxRetries int) (Stats, error) {
	runID := uuid.NewString()
	started := time.Now()

	var stats Stats
	defer func() {
		stats.CompletedAt = time.Now().UTC()
		stats.DurationSeconds = time.Since(started).Seconds()
		o.state.finish(stats)
		o.emit(events.RefreshCompleted, completedEvent{RunID: runID, Stats: stats})
	}()

	o.pacer.SetDelay(delay)
	o.emit(events.RefreshStarted, startedEvent{RunID: runID, Universe: universeName, Total: len(tickers)})

	o.log.Info().
		Str("run_id", runID).
		Str("universe", universeName).
		Int("total", len(tickers)).
		Dur("delay", delay).
		Int("max_retries", maxRetries).
		Msg("Starting refresh")

	// Identifiers already fresh under the current TTL do not need a
	// provider call.
	skipped := 0
	pending := tickers
	if classes, cerr := o.cache.ClassifyBatch(tickers); cerr != nil {
		o.log.Warn().Err(cerr).Msg("Freshness classification failed, refreshing everything")
	} else {
		pending = make([]string, 0, len(tickers))
		for _, ticker := range tickers {
			if classes[ticker] == cache.FreshnessFresh {
				skipped++
			} else {
				pending = append(pending, ticker)
			}
		}
	}

	outcomes := make(map[string]fetch.Outcome, len(pending))
	retryPasses := 0
	var runErr error

passes:
	for pass := 0; pass <= maxRetries; pass++ {
		if len(pending) == 0 {
			break
		}
		if pass > 0 {
			retryPasses = pass
			select {
			case <-ctx.Done():
				runErr = ctx.Err()
				break passes
			case <-time.After(o.retryPause):
			}
		}

		progress := Progress{Pass: pass, Total: len(pending)}
		o.state.setProgress(progress)

		var retry []string
		for _, ticker := range pending {
			if err := o.pacer.Wait(ctx); err != nil {
				runErr = err
				break passes
			}

			result := o.fetchOne(ctx, ticker)
			outcomes[ticker] = result.Outcome

			switch result.Outcome {
			case fetch.OutcomeFresh:
				o.store(ticker, result.Snapshot)
				progress.Succeeded++
			case fetch.OutcomeStale:
				// Degraded data is still usable; store it, retry later.
				o.store(ticker, result.Snapshot)
				progress.Failed++
				retry = append(retry, ticker)
			default:
				progress.Failed++
				retry = append(retry, ticker)
			}

			progress.Completed++
			o.state.setProgress(progress)
			o.emit(events.RefreshProgress, progressEvent{
				RunID:    runID,
				Universe: universeName,
				Ticker:   ticker,
				Outcome:  string(result.Outcome),
				Progress: progress,
			})
		}

		pending = retry
	}

	stats = o.tally(universeName, tickers, outcomes, skipped, retryPasses)

	o.log.Info().
		Str("run_id", runID).
		Str("universe", universeName).
		Int("fresh", stats.Fresh).
		Int("stale", stats.Stale).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Int("retry_passes", stats.RetryPasses).
		Msg("Refresh finished")

	return stats, runErr
}

// fetchOne calls the adapter with panic containment: a panicking adapter
// must never abort the pass or leave the running flag stuck.
func (o *Orchestrator) fetchOne(ctx context.Context, ticker string) (result fetch.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("ticker", ticker).Interface("panic", r).Msg("Fetch adapter panicked")
			result = fetch.Result{Outcome: fetch.OutcomeFailed, Err: fmt.Sprintf("fetch panicked: %v", r)}
		}
	}()
	return o.adapter.FetchOne(ctx, ticker)
}

// store writes a snapshot into the cache. A write failure is logged and
// does not change the fetch outcome: the data was obtained.
func (o *Orchestrator) store(ticker string, snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	if err := o.cache.Put(snap); err != nil {
		o.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to store snapshot")
	}
}

// tally assembles the final stats from the last outcome per identifier,
// in universe order. An identifier whose last attempt was stale or
// failed counts as such; one never attempted (cancelled run) counts as
// failed. Skipped identifiers were fresh in the cache and count as
// fresh.
func (o *Orchestrator) tally(universe string, tickers []string, outcomes map[string]fetch.Outcome, skipped, retryPasses int) Stats {
	stats := Stats{
		Universe:    universe,
		Total:       len(tickers),
		Skipped:     skipped,
		Fresh:       skipped,
		RetryPasses: retryPasses,
	}

	for _, ticker := range tickers {
		outcome, attempted := outcomes[ticker]
		if !attempted {
			continue
		}
		switch outcome {
		case fetch.OutcomeFresh:
			stats.Fresh++
		case fetch.OutcomeStale:
			stats.Stale++
		default:
			stats.Failed++
		}
	}

	// Identifiers neither skipped nor attempted were cut off by a
	// cancelled run.
	stats.Failed += stats.Total - stats.Skipped - len(outcomes)
	stats.Fetched = stats.Fresh + stats.Stale - stats.Skipped

	return stats
}

func (o *Orchestrator) emit(name string, data interface{}) {
	if o.bus != nil {
		o.bus.Emit(name, data)
	}
}

// State returns the shared refresh state for read-only snapshots.
func (o *Orchestrator) State() *State {
	return o.state
}
