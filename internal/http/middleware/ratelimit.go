package middleware

import (
	"container/list"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const (
	limiterIdle       = time.Hour
	defaultMaxClients = 10000
)

type limiterEntry struct {
	addr     string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address. Buckets are
// kept in recency order so idle ones can be dropped from the tail.
type IPRateLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	now        func() time.Time
	maxEntries int
	limiters   map[string]*list.Element
	recency    *list.List // front is most recently seen
}

// NewIPRateLimiter allows perHour requests per address per hour, all of
// which may be spent at once. perHour == 0 disables limiting.
func NewIPRateLimiter(perHour int) *IPRateLimiter {
	l := &IPRateLimiter{
		limit:      rate.Inf,
		burst:      1,
		now:        time.Now,
		maxEntries: defaultMaxClients,
		limiters:   make(map[string]*list.Element),
		recency:    list.New(),
	}
	if perHour > 0 {
		l.limit = rate.Every(time.Hour / time.Duration(perHour))
		l.burst = perHour
	}
	return l
}

func (l *IPRateLimiter) Allow(addr string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.expireLocked(now)

	var e *limiterEntry
	if el, ok := l.limiters[addr]; ok {
		e = el.Value.(*limiterEntry)
		l.recency.MoveToFront(el)
	} else {
		// A bucket idle for limiterIdle has refilled completely, so
		// dropping it loses nothing. Past maxEntries the least recently
		// seen client loses its bucket early.
		for l.recency.Len() >= l.maxEntries {
			l.removeLocked(l.recency.Back())
		}
		e = &limiterEntry{addr: addr, limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[addr] = l.recency.PushFront(e)
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// expireLocked drops idle entries from the tail. Each entry is removed at
// most once, so the cost is amortised over the inserts.
func (l *IPRateLimiter) expireLocked(now time.Time) {
	for el := l.recency.Back(); el != nil; el = l.recency.Back() {
		if now.Sub(el.Value.(*limiterEntry).lastSeen) <= limiterIdle {
			return
		}
		l.removeLocked(el)
	}
}

func (l *IPRateLimiter) removeLocked(el *list.Element) {
	e := l.recency.Remove(el).(*limiterEntry)
	delete(l.limiters, e.addr)
}

// RateLimit rejects requests over the per-address limit with 429.
func RateLimit(l *IPRateLimiter) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if !l.Allow(ctx.RemoteIP().String()) {
				ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"success":false,"message":"Too many requests, please try again later"}`)
				return
			}
			next(ctx)
		}
	}
}
