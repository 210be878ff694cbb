package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps hit timestamps per key in process memory. Every call
// prunes expired hits across all keys.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		hits:   map[string][]time.Time{},
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	for k, hits := range l.hits {
		kept := pruneBefore(hits, cutoff)
		if len(kept) == 0 {
			delete(l.hits, k)
			continue
		}
		l.hits[k] = kept
	}

	hits := l.hits[key]
	if len(hits) >= l.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: hits[0].Add(l.window).Sub(now),
		}, nil
	}
	l.hits[key] = append(hits, now)
	return Decision{Allowed: true, Remaining: l.limit - len(hits) - 1}, nil
}

// pruneBefore drops hits at or before cutoff. hits is sorted ascending.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

type MemoryDeduper struct {
	mu      sync.Mutex
	window  time.Duration
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		window:  window,
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func (d *MemoryDeduper) Seen(_ context.Context, fingerprint string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, expiry := range d.expires {
		if !expiry.After(now) {
			delete(d.expires, key)
		}
	}
	if _, ok := d.expires[fingerprint]; ok {
		return true, nil
	}
	d.expires[fingerprint] = now.Add(d.window)
	return false, nil
}
