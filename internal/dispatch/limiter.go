package dispatch

import (
	"sync"
	"time"
)

const (
	messageRateLimit  = 100
	messageRateWindow = time.Minute
)

// rateLimiter caps chat messages per sender over a fixed window. Senders idle
// for several windows are swept opportunistically so the map does not grow
// with every user ever seen.
type rateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	senders   map[string]*senderWindow
	lastSweep time.Time
}

type senderWindow struct {
	count int
	start time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:     limit,
		window:    window,
		senders:   make(map[string]*senderWindow),
		lastSweep: time.Now(),
	}
}

// Allow reports whether userID may send another message now and counts it if
// so. A denied attempt does not consume budget.
func (rl *rateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweep(now)

	w, ok := rl.senders[userID]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.senders[userID] = &senderWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops senders idle past five windows. Caller holds the lock.
func (rl *rateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < 5*rl.window {
		return
	}
	rl.lastSweep = now
	for userID, w := range rl.senders {
		if now.Sub(w.start) > 5*rl.window {
			delete(rl.senders, userID)
		}
	}
}
