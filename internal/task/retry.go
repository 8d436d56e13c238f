package task

import (
	"math"
	"math/rand"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
)

// unknownErrorRetryCap bounds retries for unclassified errors: they are
// retried only while the task's pre-increment attempt count is below this
// value, i.e. at most twice.
const unknownErrorRetryCap = 2

// RetryPolicy computes whether a failed task should be retried and with what
// backoff delay. The zero value is not usable; construct with
// DefaultRetryPolicy.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry and the lower clamp for
	// all computed delays.
	BaseDelay time.Duration

	// MaxDelay is the upper clamp for computed delays.
	MaxDelay time.Duration

	// BackoffFactor is the exponential growth factor between attempts.
	BackoffFactor float64

	// JitterFraction is the symmetric jitter applied to each delay
	// (0.2 means ±20%).
	JitterFraction float64
}

// DefaultRetryPolicy returns the standard policy: 5s base delay doubling per
// attempt, ±20% jitter, capped at 300s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      5 * time.Second,
		MaxDelay:       300 * time.Second,
		BackoffFactor:  2,
		JitterFraction: 0.2,
	}
}

// ShouldRetry decides whether the task's just-failed attempt warrants another
// try, and returns the backoff delay when it does.
//
// The task's Attempts field holds the pre-increment count: the attempt that
// just failed is Attempts+1. A task is exhausted once that attempt reaches
// MaxAttempts, permanent errors are never retried, and unknown errors are
// retried only while the pre-increment count is below the unknown-error cap.
func (p RetryPolicy) ShouldRetry(t *domain.Task, class ErrorClass) (bool, time.Duration) {
	if t.Attempts+1 >= t.MaxAttempts {
		return false, 0
	}

	switch class {
	case ErrorClassPermanent:
		return false, 0
	case ErrorClassTransient:
		return true, p.Delay(t.Attempts + 1)
	default:
		if t.Attempts < unknownErrorRetryCap {
			return true, p.Delay(t.Attempts + 1)
		}
		return false, 0
	}
}

// Delay computes the backoff before the given 1-based retry attempt:
// BaseDelay × BackoffFactor^(attempt-1), jittered by ±JitterFraction and
// clamped to [BaseDelay, MaxDelay]. The jitter decorrelates retry storms when
// many tasks fail at once.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))

	jitter := 1 + p.JitterFraction*(2*rand.Float64()-1)
	delay *= jitter

	if delay < float64(p.BaseDelay) {
		delay = float64(p.BaseDelay)
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}
