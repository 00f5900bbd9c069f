package main

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	maxBackoff   = 10 * time.Second
	jitterWindow = 250 * time.Millisecond
)

// pacer spaces polls: the base interval while idle, doubling up to a ceiling
// while batches keep failing. Each wait gets up to jitterWindow added so
// replicas drift apart.
type pacer struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
	jitter  func(window time.Duration) time.Duration
}

func newPacer(base, ceiling time.Duration) *pacer {
	if base <= 0 {
		base = defaultPollMs * time.Millisecond
	}
	ceiling = max(ceiling, base)
	return &pacer{base: base, ceiling: ceiling, current: base, jitter: randomJitter}
}

func (p *pacer) idle() time.Duration {
	return p.base + p.jitter(jitterWindow)
}

func (p *pacer) failed() time.Duration {
	p.current = min(p.current*2, p.ceiling)
	return p.current + p.jitter(jitterWindow)
}

func (p *pacer) reset() {
	p.current = p.base
}

func randomJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(window)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
