// Package concurrency implements the adapter's additive-increase,
// multiplicative-decrease admission control. One Limiter
// guards one fan-out stage of one request; it is not meant to be shared
// across requests.
package concurrency

import (
	"math"
	"sync"
	"time"
)

// Options configures a new Limiter. Zero values are replaced with
// defaults.
type Options struct {
	Min              float64
	Max              float64
	Initial          float64
	IncreaseStep     float64
	DecreaseFactor   float64
	SuccessThreshold int
	// FailureCooldownSec is the window after a failure during which
	// successes do not grow the limit. Zero means the default; a negative
	// value disables the window entirely.
	FailureCooldownSec float64
	// Disabled puts the limiter in forced mode: Limit() always returns the
	// initial ceiling and ReportSuccess/ReportFailure are no-ops. Used when
	// a caller wants a deterministic concurrency level
	// for benchmarking.
	Disabled bool
}

// Limiter is a single AIMD admission gate. Safe for concurrent use; callers
// typically call Limit() once per goroutine spawn decision and
// ReportSuccess/ReportFailure once per completed attempt.
type Limiter struct {
	mu sync.Mutex

	currentLimit       float64
	min                float64
	max                float64
	increaseStep       float64
	decreaseFactor     float64
	successThreshold   int
	failureCooldownSec float64

	successStreak   int
	lastFailureTime time.Time
	disabled        bool
}

// New builds a Limiter from opts, applying defaults for any zero-valued
// tunable. A zero Initial starts the limiter at Min.
//
// Panics unless 0 < Min <= Initial <= Max holds; this is a caller
// programming error, not a runtime condition. Callers accepting untrusted
// tunables must range-check them first.
func New(opts Options) *Limiter {
	if opts.Min <= 0 {
		panic("concurrency: Options.Min must be > 0")
	}
	if opts.Max < opts.Min {
		panic("concurrency: Options.Max must be >= Options.Min")
	}
	initial := opts.Initial
	if initial == 0 {
		initial = opts.Min
	}
	if initial < opts.Min || initial > opts.Max {
		panic("concurrency: Options.Initial must be within [Min, Max]")
	}
	if opts.IncreaseStep == 0 {
		opts.IncreaseStep = 1
	}
	if opts.DecreaseFactor == 0 {
		opts.DecreaseFactor = 0.5
	}
	if opts.SuccessThreshold == 0 {
		opts.SuccessThreshold = 10
	}
	if opts.FailureCooldownSec == 0 {
		opts.FailureCooldownSec = 5.0
	}
	return &Limiter{
		currentLimit:       initial,
		min:                opts.Min,
		max:                opts.Max,
		increaseStep:       opts.IncreaseStep,
		decreaseFactor:     opts.DecreaseFactor,
		successThreshold:   opts.SuccessThreshold,
		failureCooldownSec: opts.FailureCooldownSec,
		disabled:           opts.Disabled,
	}
}

// Limit returns the current concurrency ceiling, floored to an int for
// admission decisions.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(math.Floor(l.currentLimit))
}

// ReportSuccess registers one successful attempt. No-op in forced mode.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled {
		return
	}

	l.successStreak++

	now := time.Now()
	if !l.lastFailureTime.IsZero() {
		cooldownEnd := l.lastFailureTime.Add(durationFromSeconds(l.failureCooldownSec))
		if !now.Before(l.lastFailureTime) && now.Before(cooldownEnd) {
			l.successStreak = 0
			return
		}
	}

	if l.successStreak >= l.successThreshold {
		l.currentLimit = math.Min(l.currentLimit+l.increaseStep, l.max)
		l.successStreak = 0
	}
}

// ReportFailure registers one retryable failure. No-op in forced mode.
func (l *Limiter) ReportFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled {
		return
	}
	l.successStreak = 0
	l.currentLimit = math.Max(l.currentLimit*l.decreaseFactor, l.min)
	l.lastFailureTime = time.Now()
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
