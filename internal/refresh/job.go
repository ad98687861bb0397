package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Settings supplies the pacing delay for scheduled runs.
type Settings interface {
	RateLimitDelay() time.Duration
}

// Job runs a scheduled refresh of a configured universe. Satisfies the
// scheduler's Job interface.
type Job struct {
	orchestrator *Orchestrator
	settings     Settings
	universe     string
	maxRetries   int
	log          zerolog.Logger
}

// NewJob creates a scheduled refresh job for the given universe.
func NewJob(orchestrator *Orchestrator, settings Settings, universe string, maxRetries int, log zerolog.Logger) *Job {
	return &Job{
		orchestrator: orchestrator,
		settings:     settings,
		universe:     universe,
		maxRetries:   maxRetries,
		log:          log.With().Str("job", "refresh").Logger(),
	}
}

// Name returns the job name
func (j *Job) Name() string {
	return "refresh_universe"
}

// Run refreshes the configured universe. A refresh already in flight
// (e.g. triggered manually over the API) is not an error; the scheduled
// run is simply skipped.
func (j *Job) Run(ctx context.Context) error {
	delay := j.settings.RateLimitDelay()

	stats, err := j.orchestrator.Refresh(ctx, j.universe, delay, j.maxRetries)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			j.log.Warn().Str("universe", j.universe).Msg("Refresh already running, skipping scheduled run")
			return nil
		}
		return err
	}

	j.log.Info().
		Str("universe", stats.Universe).
		Int("fetched", stats.Fetched).
		Int("failed", stats.Failed).
		Msg("Scheduled refresh completed")

	return nil
}
