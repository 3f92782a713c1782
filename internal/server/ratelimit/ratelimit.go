// Package ratelimit provides per-client token-bucket limits for the login and
// refresh endpoints. Buckets are keyed by client identifier (usually the
// remote IP), bounded by an LRU, and dropped after a period of inactivity.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxEntries      = 10000
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxIdle         = 30 * time.Minute
)

// Policy is "Requests per Window, with up to Burst at once".
type Policy struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Login and Refresh are the default policies of the auth endpoints.
var (
	Login   = Policy{Requests: 100, Window: 15 * time.Minute, Burst: 10}
	Refresh = Policy{Requests: 60, Window: 15 * time.Minute, Burst: 10}
)

func (p Policy) limit() rate.Limit {
	if p.Requests <= 0 || p.Window <= 0 {
		return rate.Inf
	}
	return rate.Every(p.Window / time.Duration(p.Requests))
}

type entry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter tracks one token bucket per key.
type Limiter struct {
	mu         sync.Mutex
	policy     Policy
	maxEntries int
	entries    map[string]*list.Element
	lru        *list.List
	now        func() time.Time
	log        logging.Logger
}

// New returns a limiter enforcing p. maxEntries <= 0 selects
// DefaultMaxEntries.
func New(p Policy, maxEntries int, log logging.Logger) *Limiter {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Limiter{
		policy:     p,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		now:        time.Now,
		log:        log,
	}
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[key]; ok {
		l.lru.MoveToFront(el)
		e := el.Value.(*entry)
		e.lastAccess = now
		return e.limiter.AllowN(now, 1)
	}

	if len(l.entries) >= l.maxEntries {
		l.evictOldest()
	}

	e := &entry{
		key:        key,
		limiter:    rate.NewLimiter(l.policy.limit(), l.policy.Burst),
		lastAccess: now,
	}
	l.entries[key] = l.lru.PushFront(e)
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) evictOldest() {
	el := l.lru.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	delete(l.entries, e.key)
	l.lru.Remove(el)
}

// Cleanup drops keys idle for longer than maxIdle and returns how many.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	// the list is ordered by recency, so stop at the first fresh entry
	for el := l.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.lastAccess) <= maxIdle {
			break
		}
		prev := el.Prev()
		delete(l.entries, e.key)
		l.lru.Remove(el)
		removed++
		el = prev
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(maxIdle); n > 0 {
				l.log.Debug(ctx, "rate limiter cleanup", "removed", n, "remaining", l.Len())
			}
		}
	}
}
