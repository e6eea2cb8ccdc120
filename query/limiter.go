package query

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// userLimiter enforces the per-user bounds: a hard cap on concurrent
// queries plus a token-bucket request rate. Either breach fails fast with
// ErrThrottled rather than queuing.
type userLimiter struct {
	maxConcurrent int
	ratePerSec    rate.Limit
	burst         int

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	inflight int
	bucket   *rate.Limiter
}

func newUserLimiter(maxConcurrent int, ratePerSec float64, burst int) *userLimiter {
	return &userLimiter{
		maxConcurrent: maxConcurrent,
		ratePerSec:    rate.Limit(ratePerSec),
		burst:         burst,
		users:         make(map[string]*userState),
	}
}

// acquire reserves a query slot for the user. Callers must pair a nil
// return with release().
func (l *userLimiter) acquire(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.users[userID]
	if !ok {
		st = &userState{bucket: rate.NewLimiter(l.ratePerSec, l.burst)}
		l.users[userID] = st
	}

	if l.maxConcurrent > 0 && st.inflight >= l.maxConcurrent {
		return interfaces.ErrThrottled
	}
	if !st.bucket.Allow() {
		return interfaces.ErrThrottled
	}

	st.inflight++
	return nil
}

func (l *userLimiter) release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.users[userID]; ok && st.inflight > 0 {
		st.inflight--
	}
}
