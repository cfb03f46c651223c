package session

import "time"

// Backoff policy: zero failures cost nothing; failure n opens a window of
// base * 2^min(n, 6), capped at the maximum. A simple monotonic throttle,
// reset only by a successful unlock.
const (
	backoffBase = 250 * time.Millisecond
	backoffMax  = 5 * time.Second
	maxShift    = 6
)

// Clock abstracts the wall clock so throttle and TTL tests never sleep.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// rateLimit is the process-wide unlock failure state. Callers hold the
// session's limit mutex around every method.
type rateLimit struct {
	failures int
	last     time.Time
}

func (r *rateLimit) window() time.Duration {
	if r.failures == 0 {
		return 0
	}
	shift := r.failures
	if shift > maxShift {
		shift = maxShift
	}
	w := backoffBase << uint(shift)
	if w > backoffMax {
		w = backoffMax
	}
	return w
}

// remaining returns how much of the current window is still ahead of now.
func (r *rateLimit) remaining(now time.Time) time.Duration {
	w := r.window()
	if w == 0 {
		return 0
	}
	elapsed := now.Sub(r.last)
	if elapsed >= w {
		return 0
	}
	return w - elapsed
}

func (r *rateLimit) registerFailure(now time.Time) {
	r.failures++
	r.last = now
}

func (r *rateLimit) reset() {
	r.failures = 0
	r.last = time.Time{}
}
