package llm

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay returns base * 2^(attempt-1) with +/-25% jitter, the
// jitter applied after capping at maxDelay — the exponential-backoff-with-jitter shape from the
// teacher's dispatch.BackoffDelay, generalized from dispatch retry
// cooldowns to LLM backend retries (§3: "base 500ms, factor 2, jitter
// +/-25%").
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * multiplier)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitter := 1 + (rand.Float64()*0.5 - 0.25) // +/-25%
	return time.Duration(float64(delay) * jitter)
}
