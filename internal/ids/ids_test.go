package ids

import (
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 1000; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("id %q not greater than %q", next, prev)
		}
		prev = next
	}
	if !Valid(prev) || len(prev) != 26 {
		t.Fatalf("invalid ulid %q", prev)
	}
	if Valid("not-a-ulid") {
		t.Fatalf("garbage accepted")
	}
}
