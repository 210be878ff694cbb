package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	plain := NewID("")
	if len(plain) != 36 {
		t.Fatalf("expected a 36 character uuid, got %q", plain)
	}
	prefixed := NewID("req")
	if !strings.HasPrefix(prefixed, "req_") || len(prefixed) != 40 {
		t.Fatalf("unexpected prefixed id %q", prefixed)
	}
	if NewID("") == NewID("") {
		t.Fatal("expected distinct ids")
	}
}
