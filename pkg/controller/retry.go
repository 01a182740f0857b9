package controller

import "time"

const (
	DefaultMaxFailures = 3
	DefaultDebounce    = time.Second
)

// Retry - reconnect policy. Not safe for concurrent use.
type Retry struct {
	// MaxFailures - consecutive failures before giving up
	MaxFailures int
	// Debounce - cancellation right after manual reconnect is transient
	Debounce time.Duration

	failures  int
	reconnect time.Time
}

func NewRetry() *Retry {
	return &Retry{MaxFailures: DefaultMaxFailures, Debounce: DefaultDebounce}
}

func (r *Retry) Failures() int {
	return r.failures
}

func (r *Retry) Success() {
	r.failures = 0
}

// Failed counts failure and reports if another attempt is allowed
func (r *Retry) Failed() bool {
	r.failures++
	return r.failures < r.MaxFailures
}

// Reconnect marks manual reconnect, it also gives a fresh failure budget
func (r *Retry) Reconnect(now time.Time) {
	r.reconnect = now
	r.failures = 0
}

// Cancelled reports if cancellation should be retried. Only once per manual reconnect.
func (r *Retry) Cancelled(now time.Time) bool {
	if r.reconnect.IsZero() {
		return false
	}
	ok := now.Sub(r.reconnect) < r.Debounce
	r.reconnect = time.Time{}
	return ok
}
