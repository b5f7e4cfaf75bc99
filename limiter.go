package mediawidget

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyLimiter rate-limits requests per key (usually a client IP) with one
// token bucket per key. Idle buckets are swept in the background.
type KeyLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewKeyLimiter allows burst requests at once per key, refilled at limit
// tokens per second. Buckets unused for idle are dropped.
func NewKeyLimiter(limit rate.Limit, burst int, idle time.Duration) *KeyLimiter {
	l := &KeyLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     idle,
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// NewLoginLimiter allows max attempts per window for each IP.
func NewLoginLimiter(max int, window time.Duration) *KeyLimiter {
	return NewKeyLimiter(rate.Every(window/time.Duration(max)), max, window)
}

func (l *KeyLimiter) cleanup() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idle)
			l.mu.Lock()
			for key, v := range l.visitors {
				if v.seen.Before(cutoff) {
					delete(l.visitors, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Allow reports whether key may proceed and consumes a token if so.
func (l *KeyLimiter) Allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = time.Now()
	l.mu.Unlock()
	return v.lim.Allow()
}

// Len returns the number of tracked keys.
func (l *KeyLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Close stops the background sweeper.
func (l *KeyLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
