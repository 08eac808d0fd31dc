// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package signaling

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffCap is the maximum reconnect delay (spec §4.3).
const backoffCap = 7000 * time.Millisecond

// DelayMS computes the jittered exponential reconnect delay for a given
// attempt: min(CAP, 100*2^attempt + U[0,1000]). attempt 0 always yields 0,
// since the first connection attempt is never delayed.
func DelayMS(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 100*2^7 already exceeds the cap before jitter; returning early also
	// keeps the shift below from overflowing at absurd attempt counts.
	if attempt >= 7 {
		return backoffCap
	}
	base := 100 * (1 << uint(attempt))
	jitter := rand.Intn(1001)
	d := time.Duration(base+jitter) * time.Millisecond
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// EngineBackOff adapts DelayMS to cenkalti/backoff/v4's BackOff interface.
// The engine's reconnect timer draws each delay from NextBackOff and calls
// Reset whenever its own retry counter resets, keeping the two in lockstep.
type EngineBackOff struct {
	attempt int
}

var _ backoff.BackOff = (*EngineBackOff)(nil)

// NextBackOff returns the delay for the next attempt and advances the
// internal counter.
func (b *EngineBackOff) NextBackOff() time.Duration {
	b.attempt++
	return DelayMS(b.attempt)
}

// Reset zeroes the attempt counter, mirroring the engine's retry_count
// reset on every successful entry to Connected (spec §3 invariant).
func (b *EngineBackOff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt count. The engine compares its own
// retry counter against MaxRetries, not this value.
func (b *EngineBackOff) Attempt() int {
	return b.attempt
}
