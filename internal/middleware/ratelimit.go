package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AnshRaj112/safemobile-backend/pkg/clientip"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 30 * time.Minute

	commandBurstWindow    = time.Minute
	commandBurstKeyPrefix = "ratelimit:commands:"
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// KeyedLimiter holds one token bucket per key (client IP, device id). Idle buckets are
// evicted after limiterTTL.
type KeyedLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
	once    sync.Once
	now     func() time.Time
}

func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	l.once.Do(l.startCleanup)
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = e
	}
	e.lastUse = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *KeyedLimiter) startCleanup() {
	go func() {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			l.evictIdle(l.now())
		}
	}()
}

func (l *KeyedLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if now.Sub(e.lastUse) > limiterTTL {
			delete(l.entries, k)
		}
	}
}

func (l *KeyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// PerIP rejects a client IP once its bucket is empty.
func PerIP(l *KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientip.RealClientIP(r)) {
				writeJSONError(w, http.StatusTooManyRequests, `{"success":false,"message":"Too many requests. Please slow down."}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PerDevice limits heartbeats per authenticated device. Must run after RequireDevice.
func PerDevice(l *KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := DeviceFromContext(r.Context())
			if ok && !l.Allow(claims.Subject) {
				writeJSONError(w, http.StatusTooManyRequests, `{"success":false,"message":"Heartbeat rate exceeded"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CommandBurst caps command submissions per operator per minute with a shared Redis
// counter. A nil client or a Redis error lets the request through.
func CommandBurst(client *redis.Client, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := commandBurstKeyPrefix + burstSubject(r)
			count, err := incrWindow(r.Context(), client, key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if count > int64(limit) {
				writeJSONError(w, http.StatusTooManyRequests, `{"success":false,"message":"Command rate limit exceeded","retry_after":60}`)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(limit)-count, 10))
			next.ServeHTTP(w, r)
		})
	}
}

func burstSubject(r *http.Request) string {
	if u, ok := UserFromContext(r.Context()); ok {
		return u.ID
	}
	return clientip.RealClientIP(r)
}

// incrWindow bumps key and starts its window on the first hit.
func incrWindow(ctx context.Context, client *redis.Client, key string) (int64, error) {
	pipe := client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, commandBurstWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
