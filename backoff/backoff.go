// Package backoff holds the reconnect backoff schedules used by the
// connection state machine: a fast schedule for transient/unspecified
// closes and a slow schedule for server-indicated (4000-4100) closes.
package backoff

import "time"

// Fast is used for authentication failures and any close code outside the
// 4000-4100 range other than the terminal close-without-retry code, which
// schedules no reconnect at all.
var Fast = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	10 * time.Second,
}

// Slow is used after a server-indicated close in the 4000-4100 range.
var Slow = []time.Duration{
	2 * time.Second,
	30 * time.Second,
	60 * time.Second,
	5 * time.Minute,
}

// Duration returns the delay for the given retry count, clamping to the
// schedule's last entry once retries exceed its length.
func Duration(schedule []time.Duration, numberOfRetry int) time.Duration {
	if numberOfRetry < 0 {
		numberOfRetry = 0
	}
	if numberOfRetry >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[numberOfRetry]
}
