package worker

import "time"

// nextBackoff returns the delay before the attempt after the given number of
// failed tries: base doubled per retry, capped at ceiling. retry 0 yields base.
func nextBackoff(base, ceiling time.Duration, retry int) time.Duration {
	if base <= 0 {
		return ceiling
	}
	d := base << uint(retry)
	// The shift overflows for large retry counts; treat that as hitting the ceiling.
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}
