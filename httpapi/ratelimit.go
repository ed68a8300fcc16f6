package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"
)

// RouteClass groups routes that share a per-client budget. Invoice requests
// hit the Lightning node on every call and are limited apart from result
// polls, which clients repeat until a job finishes.
type RouteClass string

const (
	ClassInvoice RouteClass = "invoice"
	ClassPoll    RouteClass = "poll"
)

// Limit is a token bucket per client IP. A zero RPS leaves the class
// unlimited.
type Limit struct {
	RPS   float64
	Burst int
}

func (l Limit) enabled() bool { return l.RPS > 0 }

func (l Limit) bucket() *rate.Limiter {
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.RPS), burst)
}

// retryAfter is the whole number of seconds until one token is back.
func (l Limit) retryAfter() string {
	return strconv.Itoa(int(math.Ceil(1 / l.RPS)))
}

type clientKey struct {
	class RouteClass
	ip    string
}

type bucketEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one bucket per route class and client IP. Idle buckets
// are swept in the background until Stop.
type RateLimiter struct {
	limits map[RouteClass]Limit
	now    func() time.Time
	idle   time.Duration

	mu      sync.Mutex
	buckets map[clientKey]*bucketEntry

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(limits map[RouteClass]Limit) *RateLimiter {
	rl := &RateLimiter{
		limits:  limits,
		now:     time.Now,
		idle:    10 * time.Minute,
		buckets: make(map[clientKey]*bucketEntry),
		stop:    make(chan struct{}),
	}
	go rl.sweepEvery(5 * time.Minute)
	return rl
}

// Allow takes a token from the client's bucket for class.
func (rl *RateLimiter) Allow(class RouteClass, ip string) bool {
	limit, ok := rl.limits[class]
	if !ok || !limit.enabled() {
		return true
	}

	key := clientKey{class: class, ip: ip}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucketEntry{limiter: limit.bucket()}
		rl.buckets[key] = b
	}
	b.seen = rl.now()
	return b.limiter.Allow()
}

// For returns middleware charging requests to class. Rejected requests get
// 429 with a Retry-After hint.
func (rl *RateLimiter) For(class RouteClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(class, clientIP(r)) {
				w.Header().Set("Retry-After", rl.limits[class].retryAfter())
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, message("Too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := rl.now().Add(-rl.idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Clients returns how many buckets are tracked across all classes.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
