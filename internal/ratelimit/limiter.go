// Package ratelimit paces simulated keystrokes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer spaces events evenly at a fixed rate. A typist does not burst, so
// the bucket holds a single token.
type Pacer struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewPacer allows perSecond events per second. Zero or less disables
// pacing.
func NewPacer(perSecond float64) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(limitFor(perSecond), 1)}
}

// Wait blocks until the next event may happen or ctx is done. When the
// next event falls past ctx's deadline, Wait fails early with an error
// wrapping context.DeadlineExceeded.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.RLock()
	limiter := p.limiter
	limit := limiter.Limit()
	p.mu.RUnlock()

	if limit == rate.Inf {
		return ctx.Err()
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}
	return nil
}

// SetRate changes the pace; zero or less disables it.
func (p *Pacer) SetRate(perSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter.SetLimit(limitFor(perSecond))
}

// Rate returns events per second, or 0 when pacing is disabled.
func (p *Pacer) Rate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if l := p.limiter.Limit(); l != rate.Inf {
		return float64(l)
	}
	return 0
}

func limitFor(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
