package task

import (
	"math/rand"
	"time"
)

// Backoff computes jittered, capped exponential retry delays. The jitter
// keeps each delay within [d/2, d] where d = min(cap, base*2^attempt), so
// delays stay non-decreasing across attempts while retries of unrelated
// tasks spread out instead of herding.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	// rnd is overridable for deterministic tests; nil means the shared
	// package source.
	rnd func() float64
}

// Next returns the delay before re-enqueueing after the given attempt
// (1-based: the first retry follows attempt 1).
func (b Backoff) Next(attempt int) time.Duration {
	d := b.Base
	if d <= 0 {
		d = time.Second
	}

	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			d = b.Cap
			break
		}
	}

	rnd := b.rnd
	if rnd == nil {
		rnd = rand.Float64
	}

	// Scale into [d/2, d].
	half := d / 2
	return half + time.Duration(rnd()*float64(half))
}
