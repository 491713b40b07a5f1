package replysession

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wagenda/internal/storage"
	"wagenda/pkg/logx"
)

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "sessions.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, timeout, logx.Nop())
}

func TestConsumeIsSingleUse(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, err := m.Start(ctx, "owner", "628999", "g1", now); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	rs, ok, err := m.Consume(ctx, "owner", now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("Consume: ok=%v err=%v", ok, err)
	}
	if rs.TargetSenderID != "628999" || rs.TargetGroupID != "g1" {
		t.Fatalf("session = %+v", rs)
	}

	_, ok, err = m.Consume(ctx, "owner", now.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("second Consume: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestConsumeExpiredFailsClosed(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, err := m.Start(ctx, "owner", "628999", "g1", now); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	_, ok, err := m.Consume(ctx, "owner", now.Add(5*time.Minute))
	if err != nil || ok {
		t.Fatalf("expired Consume: ok=%v err=%v, want false nil", ok, err)
	}
}

func TestStartReplacesActiveSession(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, err := m.Start(ctx, "owner", "111", "g1", now); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := m.Start(ctx, "owner", "222", "g2", now.Add(time.Minute)); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	rs, ok, err := m.Consume(ctx, "owner", now.Add(2*time.Minute))
	if err != nil || !ok {
		t.Fatalf("Consume: ok=%v err=%v", ok, err)
	}
	if rs.TargetSenderID != "222" {
		t.Fatalf("routed to %q, want the newer target", rs.TargetSenderID)
	}
}

func TestSetTimeoutAppliesToNewSessions(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	m.SetTimeout(time.Minute)
	rs, err := m.Start(ctx, "owner", "628999", "g1", now)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !rs.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("ExpiresAt = %v, want now+1m", rs.ExpiresAt)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	if _, err := m.Start(ctx, "owner", "628999", "g1", now); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	n, err := m.Sweep(ctx, now.Add(10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v, want 1, nil", n, err)
	}
	_, ok, err := m.Consume(ctx, "owner", now)
	if err != nil || ok {
		t.Fatalf("session survived sweep: ok=%v err=%v", ok, err)
	}
}
