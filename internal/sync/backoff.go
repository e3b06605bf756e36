package sync

import (
	"math/rand"
	"time"
)

// nextBackoff returns the retry delay after the given attempt count:
// exponential from min, capped at max, with up to 25% jitter so a fleet of
// devices recovering from an outage does not retry in lockstep.
func nextBackoff(attempts int, min, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := min
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
