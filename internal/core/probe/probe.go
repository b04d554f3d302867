// Package probe contains pure functions for classifying health probe
// results. No I/O happens here: the shell performs the HTTP request or
// container exec and feeds the raw result in.
package probe

import (
	"time"
)

// =============================================================================
// Outcome Classification
// =============================================================================

// Class is the classified result of a probe attempt.
type Class string

const (
	// ClassUp means the target answered and looks healthy.
	ClassUp Class = "up"
	// ClassDegraded means the target answered but not cleanly
	// (server error status, nonzero-but-ran exec).
	ClassDegraded Class = "degraded"
	// ClassDown means the target did not answer at all.
	ClassDown Class = "down"
)

// Outcome is the recorded result of a probe stage.
type Outcome struct {
	Class    Class
	Attempts int
	Detail   string
}

// ClassifyHTTP classifies a single HTTP probe attempt.
//
//   - transport error (err != nil): down
//   - 2xx, 3xx: up
//   - 4xx: degraded (the server is alive; the path or auth is wrong)
//   - 5xx: degraded
func ClassifyHTTP(statusCode int, err error) Class {
	if err != nil {
		return ClassDown
	}
	switch {
	case statusCode >= 200 && statusCode < 400:
		return ClassUp
	case statusCode >= 400:
		return ClassDegraded
	default:
		return ClassDown
	}
}

// ClassifyExec classifies a command exec'd inside a container.
//
//   - start error (err != nil): down (container missing or not running)
//   - exit 0: up
//   - nonzero exit: degraded (the client ran but the statement failed)
func ClassifyExec(exitCode int, err error) Class {
	if err != nil {
		return ClassDown
	}
	if exitCode == 0 {
		return ClassUp
	}
	return ClassDegraded
}

// Merge keeps the best class seen across attempts. Up beats degraded
// beats down, so a probe that eventually connects reports the success.
func Merge(best, next Class) Class {
	if rank(next) > rank(best) {
		return next
	}
	return best
}

func rank(c Class) int {
	switch c {
	case ClassUp:
		return 2
	case ClassDegraded:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// Retry Schedule
// =============================================================================

// Schedule returns the wait before each retry for the given attempt count
// and base backoff. The first attempt has no wait; each later attempt
// doubles the previous wait.
//
// Example: attempts=3, backoff=2s gives [0s, 2s, 4s]
func Schedule(attempts int, backoff time.Duration) []time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	waits := make([]time.Duration, attempts)
	wait := backoff
	for i := 1; i < attempts; i++ {
		waits[i] = wait
		wait *= 2
	}
	return waits
}
