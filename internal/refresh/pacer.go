package refresh

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between outbound provider calls.
// The interval is measured from the start of the previous call, so a
// slow provider response does not compound with the delay.
//
// The pacer is single-consumer: only one orchestrator runs at a time,
// and it must not be shared across concurrent orchestrators.
type Pacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
}

// NewPacer creates a pacer with the given minimum interval.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{
		limiter: rate.NewLimiter(limitFor(delay), 1),
		delay:   delay,
	}
}

// SetDelay changes the minimum interval. It takes effect on the next
// Wait, not retroactively.
func (p *Pacer) SetDelay(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.delay = delay
	p.limiter.SetLimit(limitFor(delay))
}

// Delay returns the currently configured minimum interval.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// Wait blocks until the next provider call may start. It holds no lock
// shared with the cache or refresh state while waiting, so readers are
// never blocked behind an in-progress refresh.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}
