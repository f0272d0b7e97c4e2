package syncer

import (
	"math"
	"time"

	"tasksync/internal/remote"
)

// Verdict is what happens to an entry after a failed dispatch.
type Verdict int

const (
	VerdictRetry Verdict = iota + 1
	VerdictDeadLetter
)

func (v Verdict) String() string {
	switch v {
	case VerdictRetry:
		return "retry"
	case VerdictDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Transition is the single place attempt counting and escalation are decided
// (pending -> error -> failed). attempts is the count before this failure. Checksum
// rejections never reach it: they consume no attempt.
func Transition(kind remote.ErrorKind, attempts, maxAttempts int) (next int, verdict Verdict) {
	next = attempts + 1
	if kind == remote.KindValidation || next >= maxAttempts {
		return next, VerdictDeadLetter
	}
	return next, VerdictRetry
}

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	// float64(MaxInt64) rounds up past the int64 range
	if delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(delay)
	if d <= 0 {
		d = time.Second
	}
	return d
}
