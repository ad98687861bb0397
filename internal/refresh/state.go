package refresh

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a refresh is triggered while one is
// in flight. Triggers are rejected, never queued; the caller retries
// later.
var ErrAlreadyRunning = errors.New("a refresh is already running")

// Progress describes the live position within one refresh pass. During
// retry passes Total shrinks to the size of the retry set and Pass
// counts up; within a pass Completed is monotonic and reaches Total.
type Progress struct {
	Pass      int `json:"pass"`
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Stats is the final tally of one refresh run. Fetched counts snapshots
// actually obtained from the provider: fresh plus stale, minus the
// cache-fresh identifiers that were skipped without a network call
// (Skipped is folded into Fresh, so Fetched = Fresh + Stale - Skipped).
type Stats struct {
	Universe        string    `json:"universe"`
	Total           int       `json:"total"`
	Fresh           int       `json:"fresh"`
	Stale           int       `json:"stale"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	Fetched         int       `json:"fetched"`
	RetryPasses     int       `json:"retry_passes_used"`
	DurationSeconds float64   `json:"duration_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
}

// State is the process-wide refresh state. It is mutated exclusively by
// the orchestrator; everyone else reads copies via Snapshot. The mutex
// is held only for field access, never across a fetch or a pacer wait.
type State struct {
	mu          sync.Mutex
	running     bool
	universe    string
	progress    Progress
	lastResult  *Stats
	lastRefresh *time.Time
}

// Snapshot is a read-only copy of the refresh state.
type Snapshot struct {
	Running     bool       `json:"running"`
	Universe    string     `json:"current_universe,omitempty"`
	Progress    *Progress  `json:"progress,omitempty"`
	LastResult  *Stats     `json:"last_result,omitempty"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// NewState creates an idle refresh state.
func NewState() *State {
	return &State{}
}

// begin transitions to running, rejecting the call when a run is already
// in flight. The test-and-set is atomic under the mutex.
func (s *State) begin(universe string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.running = true
	s.universe = universe
	s.progress = Progress{Total: total}
	return nil
}

// setProgress publishes the current pass position.
func (s *State) setProgress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// finish transitions back to idle and publishes the run's result.
// It is safe to call on an already idle state.
func (s *State) finish(stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.universe = ""
	s.progress = Progress{}
	s.lastResult = &stats
	completed := stats.CompletedAt
	s.lastRefresh = &completed
}

// Snapshot returns a copy of the current state; callers never receive a
// live reference.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running: s.running,
	}
	if s.running {
		snap.Universe = s.universe
		progress := s.progress
		snap.Progress = &progress
	}
	if s.lastResult != nil {
		result := *s.lastResult
		snap.LastResult = &result
	}
	if s.lastRefresh != nil {
		last := *s.lastRefresh
		snap.LastRefresh = &last
	}
	return snap
}

// Running reports whether a refresh is in flight.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
