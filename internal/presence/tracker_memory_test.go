package presence

import (
	"context"
	"testing"
)

func TestMemoryTracker_DefaultsOffline(t *testing.T) {
	tr := NewMemoryTracker()
	s, err := tr.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if s != StatusOffline {
		t.Fatalf("expected offline for unknown user, got %q", s)
	}
}

func TestMemoryTracker_SetGet(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	if err := tr.Set(ctx, "u1", StatusBusy); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	s, _ := tr.Get(ctx, "u1")
	if s != StatusBusy {
		t.Fatalf("expected busy, got %q", s)
	}

	_ = tr.Set(ctx, "u1", StatusOnline)
	s, _ = tr.Get(ctx, "u1")
	if s != StatusOnline {
		t.Fatalf("expected online, got %q", s)
	}
}
