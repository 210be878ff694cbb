package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryLimiterRejectsFortyFirstRequest(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(40, 5*time.Minute)
	limiter.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		decision, err := limiter.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d", i+1)
		clock.Advance(time.Second)
	}

	decision, err := limiter.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfterSeconds(), 0)
	assert.Equal(t, 5*time.Minute-40*time.Second, decision.RetryAfter)

	other, err := limiter.Allow(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "limits are per key")
}

func TestMemoryLimiterSlidesAndPrunes(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(2, time.Minute)
	limiter.now = clock.Now
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "a")
	clock.Advance(30 * time.Second)
	_, _ = limiter.Allow(ctx, "a")
	_, _ = limiter.Allow(ctx, "b")

	blocked, _ := limiter.Allow(ctx, "a")
	assert.False(t, blocked.Allowed)

	clock.Advance(30 * time.Second)
	allowed, _ := limiter.Allow(ctx, "a")
	assert.True(t, allowed.Allowed, "first hit left the window")

	clock.Advance(2 * time.Minute)
	_, _ = limiter.Allow(ctx, "c")
	assert.NotContains(t, limiter.hits, "a")
	assert.NotContains(t, limiter.hits, "b")
}

func TestMemoryDeduperWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	deduper := NewMemoryDeduper(30 * time.Second)
	deduper.now = clock.Now
	ctx := context.Background()
	fp := Fingerprint("203.0.113.7", "website", "2.4.0", "Mozilla/5.0")

	seen, err := deduper.Seen(ctx, fp)
	require.NoError(t, err)
	assert.False(t, seen)

	clock.Advance(29 * time.Second)
	seen, _ = deduper.Seen(ctx, fp)
	assert.True(t, seen)

	clock.Advance(2 * time.Second)
	seen, _ = deduper.Seen(ctx, fp)
	assert.False(t, seen, "window restarts after expiry")
}

func TestFingerprintSeparatesFields(t *testing.T) {
	assert.NotEqual(t, Fingerprint("ip", "a", "b"), Fingerprint("ip", "ab", ""))
	assert.Equal(t, Fingerprint("ip", "src", "1.0", "ua"), Fingerprint("ip", "src", "1.0", "ua"))
	assert.Len(t, Fingerprint("x"), 64)
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, Decision{RetryAfter: 10 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 3, Decision{RetryAfter: 2*time.Second + time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{}.RetryAfterSeconds())
	assert.Equal(t, 0, Decision{Allowed: true}.RetryAfterSeconds())
}
