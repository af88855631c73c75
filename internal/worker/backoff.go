package worker

import (
	"math"
	"time"
)

// Backoff computes the delay before the next delivery attempt:
// initial * multiplier^retryCount. With the defaults (1000ms, x2) attempts
// 0..4 wait 1s, 2s, 4s, 8s, 16s.
func Backoff(initial time.Duration, multiplier float64, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return time.Duration(float64(initial) * math.Pow(multiplier, float64(retryCount)))
}
