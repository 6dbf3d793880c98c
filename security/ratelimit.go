package security

import (
	"container/list"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultMaxEntries bounds how many unique clients are tracked at once.
const defaultMaxEntries = 10000

// limiterEntry tracks a rate limiter and its last access time.
type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier rate limiting using a token bucket,
// with LRU eviction to prevent unbounded memory growth.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lru        *list.List // of *limiterEntry, front = most recent
	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond per
// identifier with the given burst. A background loop evicts identifiers
// idle for more than five minutes.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	// A zero burst would reject every request; fall back to the rate.
	if burst <= 0 {
		burst = requestsPerSecond
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lru:         list.New(),
		rate:        requestsPerSecond,
		burst:       burst,
		maxEntries:  defaultMaxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Allow reports whether the identifier may proceed.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	elem, ok := rl.limiters[identifier]
	if !ok {
		if rl.lru.Len() >= rl.maxEntries {
			rl.evictOldest()
		}
		entry := &limiterEntry{
			identifier: identifier,
			limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
			lastAccess: time.Now(),
		}
		rl.limiters[identifier] = rl.lru.PushFront(entry)
		return entry.limiter.Allow()
	}

	entry := elem.Value.(*limiterEntry)
	entry.lastAccess = time.Now()
	rl.lru.MoveToFront(elem)
	return entry.limiter.Allow()
}

// Stop terminates the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Middleware rejects over-limit requests with 429, keyed by client IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	rl.lru.Remove(elem)
	delete(rl.limiters, entry.identifier)
	rl.logger.Debug("Evicted rate limiter entry", "identifier", entry.identifier)
}

func (rl *RateLimiter) cleanupLoop(maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(maxIdle)
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes entries idle longer than maxIdle.
func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if entry.lastAccess.After(cutoff) {
			break
		}
		prev := elem.Prev()
		rl.lru.Remove(elem)
		delete(rl.limiters, entry.identifier)
		elem = prev
	}
}

// clientIP extracts the direct connection IP. Proxy headers are
// deliberately ignored here; the front end applies limits per connection
// peer unless a trusted proxy terminates TLS in front of it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
