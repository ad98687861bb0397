// Package fetch defines the market data fetch adapter: the single place
// where provider network calls happen. The adapter reports a tri-state
// outcome per security so the refresh orchestrator can make retry
// decisions on data, not on error types.
package fetch

import (
	"context"

	"github.com/aristath/screener/internal/snapshot"
)

// Outcome classifies one fetch attempt.
type Outcome string

const (
	// OutcomeFresh means live data was obtained from the provider.
	OutcomeFresh Outcome = "fresh"
	// OutcomeStale means data was obtained but is degraded: served from
	// a stale source or missing core fundamentals. Usable, but the
	// orchestrator will retry the security.
	OutcomeStale Outcome = "stale"
	// OutcomeFailed means no usable data was obtained.
	OutcomeFailed Outcome = "failed"
)

// Result is the per-security, per-attempt outcome. Snapshot is present
// for fresh and stale outcomes and absent for failed ones.
type Result struct {
	Outcome  Outcome
	Snapshot *snapshot.Snapshot
	Err      string
}

// Adapter performs one provider call per security.
type Adapter interface {
	FetchOne(ctx context.Context, ticker string) Result
}

// Failed builds a failed result from an error.
func Failed(err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{Outcome: OutcomeFailed, Err: msg}
}
