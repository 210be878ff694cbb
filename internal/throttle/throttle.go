// Package throttle holds the per-IP sliding-window limiter and the short
// fingerprint dedup window used by the public ingest endpoints.
package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Decision is the outcome of one Allow call. RetryAfter is set only when
// the request was rejected.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds up so a rejected caller never sees zero.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	return max(seconds, 1)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Deduper reports whether fingerprint was already seen inside its window.
// The first call for a fingerprint records it and returns false.
type Deduper interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
}

// Fingerprint hashes the identifying fields of a download event.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
