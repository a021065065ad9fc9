package backoff

import "time"

// DefaultMaxRetries is the number of retryable failures a job is allowed
// before it goes terminal.
const DefaultMaxRetries = 3

var schedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Delay returns the wait before the next attempt given how many retries
// already happened. Retries beyond the table reuse the last step.
func Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[retryCount]
}
