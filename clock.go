package vitalink

import "time"

var epoch = time.Now()

// monotonicNanos reads the monotonic clock relative to process start. It is never
// zero, so a zero heartbeat always means "not yet live".
func monotonicNanos() uint64 {
	return uint64(time.Since(epoch)) + 1
}
