package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend, s
}

func TestNewRedisBackend(t *testing.T) {
	backend, _ := setupTestRedis(t)
	if err := backend.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisBackendRejectsBadURL(t *testing.T) {
	if _, err := NewRedisBackend("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisLimiterMatchesMemoryLimiter(t *testing.T) {
	backend, _ := setupTestRedis(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}

	remote := backend.Limiter("downloads", 3, time.Minute)
	remote.now = clock.Now
	local := NewMemoryLimiter(3, time.Minute)
	local.now = clock.Now

	steps := []time.Duration{0, 10 * time.Second, 10 * time.Second, 10 * time.Second, 31 * time.Second, 0}
	for i, step := range steps {
		clock.Advance(step)
		want, _ := local.Allow(ctx, "ip")
		got, err := remote.Allow(ctx, "ip")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got.Allowed != want.Allowed || got.Remaining != want.Remaining {
			t.Fatalf("step %d: redis=%+v memory=%+v", i, got, want)
		}
		if !got.Allowed && got.RetryAfter != want.RetryAfter {
			t.Fatalf("step %d: retry redis=%v memory=%v", i, got.RetryAfter, want.RetryAfter)
		}
	}
}

func TestRedisLimiterRejectsFortyFirstRequest(t *testing.T) {
	backend, _ := setupTestRedis(t)
	ctx := context.Background()
	limiter := backend.Limiter("downloads", 40, 5*time.Minute)

	for i := 0; i < 40; i++ {
		decision, err := limiter.Allow(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}

	decision, err := limiter.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("request 41: %v", err)
	}
	if decision.Allowed {
		t.Fatal("request 41 must be limited")
	}
	if decision.RetryAfterSeconds() <= 0 {
		t.Fatalf("expected positive retry-after, got %v", decision.RetryAfter)
	}
}

func TestRedisDeduperExpires(t *testing.T) {
	backend, s := setupTestRedis(t)
	ctx := context.Background()
	deduper := backend.Deduper("downloads", 30*time.Second)
	fp := Fingerprint("203.0.113.7", "website", "2.4.0", "curl/8")

	seen, err := deduper.Seen(ctx, fp)
	if err != nil {
		t.Fatalf("first Seen failed: %v", err)
	}
	if seen {
		t.Fatal("first call must not be a duplicate")
	}

	seen, err = deduper.Seen(ctx, fp)
	if err != nil || !seen {
		t.Fatalf("second call must be a duplicate: seen=%v err=%v", seen, err)
	}

	s.FastForward(31 * time.Second)

	seen, err = deduper.Seen(ctx, fp)
	if err != nil || seen {
		t.Fatalf("fingerprint must expire: seen=%v err=%v", seen, err)
	}
}
