package elbo

import "math"

// Warmup computes the KL weight for an epoch.
//
// The weight grows linearly from 0 to 1 over the first
// warmup epochs and stays at 1 afterwards.
// A non-positive warmup disables the schedule.
func Warmup(epoch, warmup int) float64 {
	if warmup <= 0 {
		return 1
	}
	return math.Max(0, math.Min(float64(epoch)/float64(warmup), 1))
}
