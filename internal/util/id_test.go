package util

import (
	"strings"
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	id := NewID("")
	if len(id) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", id)
	}
	if NewID("") == id {
		t.Fatal("expected ids to differ")
	}
	if !strings.HasPrefix(NewID("req"), "req_") {
		t.Fatal("expected prefix")
	}
}

func TestTimeIDIsUniqueForSameInstant(t *testing.T) {
	now := time.UnixMilli(1_900_000_000_000)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id := TimeID(now)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
