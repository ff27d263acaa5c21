package session

import "time"

// tokenBucket limits how often a repeated event is reported. Not safe for
// concurrent use.
type tokenBucket struct {
	every  time.Duration
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// newTokenBucket refills one token per interval, holding at most burst.
func newTokenBucket(every time.Duration, burst int, now func() time.Time) *tokenBucket {
	if every <= 0 {
		every = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &tokenBucket{
		every:  every,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   now(),
		now:    now,
	}
}

// Allow reports whether a token is available, taking it if so.
func (t *tokenBucket) Allow() bool {
	now := t.now()
	t.tokens += float64(now.Sub(t.last)) / float64(t.every)
	t.last = now
	if t.tokens > t.burst {
		t.tokens = t.burst
	}
	if t.tokens < 1 {
		return false
	}
	t.tokens--
	return true
}
