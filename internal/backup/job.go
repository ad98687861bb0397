package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job runs a scheduled backup with rotation. Satisfies the scheduler's
// Job interface.
type Job struct {
	service       *Service
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewJob creates a scheduled backup job.
func NewJob(service *Service, retentionDays int, log zerolog.Logger) *Job {
	return &Job{
		service:       service,
		retentionDays: retentionDays,
		timeout:       30 * time.Minute,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *Job) Name() string {
	return "backup_store"
}

// Run creates and uploads a backup, then rotates old ones. A rotation
// failure does not fail the job; the backup itself succeeded.
func (j *Job) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	if err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}

	if err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Error().Err(err).Msg("Backup rotation failed")
	}

	return nil
}
