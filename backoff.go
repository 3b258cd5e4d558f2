package gatekit

import "time"

// RetryDelay returns the wait before the attempt-th retry, indexed into a
// monotonically non-decreasing sequence of durations. Attempts past the end
// of the sequence are clamped to the last entry, so callers escalate to the
// longest wait and stay there. An empty sequence yields zero.
//
// The helper is a pure function: gatekit itself never schedules retries,
// rejected requests return immediately with a Retry-After hint.
func RetryDelay(attempt int, seq []time.Duration) time.Duration {
	if len(seq) == 0 || attempt < 0 {
		return 0
	}
	if attempt >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[attempt]
}
