package audit

import (
	"context"
	"testing"
	"time"
)

func TestService_Append_FillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }

	if err := svc.Append(context.Background(), Event{Type: EventTypeSessionInterrupted, SessionID: "s1"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got := repo.Events()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}
}

func TestService_Append_RejectsMissingType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Append(context.Background(), Event{}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_Helpers(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.LogAdminCredit(ctx, "admin1", "admin", "u1", "manual refund", ""); err != nil {
		t.Fatalf("admin credit log failed: %v", err)
	}
	if err := svc.LogInterruption(ctx, "s1", "client heartbeat expired"); err != nil {
		t.Fatalf("interruption log failed: %v", err)
	}

	got := repo.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventTypeAdminCredit || got[1].Type != EventTypeSessionInterrupted {
		t.Fatalf("unexpected event types: %q, %q", got[0].Type, got[1].Type)
	}
}
