//go:build !integration

package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewAtIsSortable(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewAt(at)
		if len(id) != 26 {
			t.Fatalf("expected 26 chars, got %q", id)
		}
		if id <= prev {
			t.Fatalf("ids must increase within the same millisecond: %s <= %s", id, prev)
		}
		prev = id
	}
	parsed, err := ulid.Parse(prev)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ulid.Time(parsed.Time()).UnixMilli() != at.UnixMilli() {
		t.Errorf("timestamp not preserved: %v", ulid.Time(parsed.Time()))
	}
}
