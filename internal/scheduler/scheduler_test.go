package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wagenda/internal/correlate"
	"wagenda/internal/storage"
	"wagenda/internal/wa"
	"wagenda/pkg/logx"
)

type fakeGateway struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeGateway) SendText(_ context.Context, to, text string) (wa.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to+"|"+text)
	return wa.SendResult{MessageID: "wamid.test"}, nil
}

func (f *fakeGateway) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	copy(out, f.sends)
	return out
}

func newTestService(t *testing.T, gw Gateway) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "sched.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tracker := correlate.New(store, 12*time.Hour, logx.Nop())
	svc := New(Config{}, store, gw, tracker, logx.Nop())
	return svc, store
}

func registerGroup(t *testing.T, store *storage.Store, alias, groupID string) {
	t.Helper()
	if _, err := store.UpsertGroup(context.Background(),
		storage.Group{Alias: alias, GroupID: groupID}); err != nil {
		t.Fatalf("UpsertGroup error: %v", err)
	}
}

func TestScheduleUnknownAlias(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, &fakeGateway{})
	now := time.Now().UTC()

	_, err := svc.Schedule(context.Background(), "nope", "x", now.Add(time.Hour), now, "owner")
	if !errors.Is(err, ErrUnknownAlias) {
		t.Fatalf("error = %v, want ErrUnknownAlias", err)
	}
	var uae *UnknownAliasError
	if !errors.As(err, &uae) || uae.Alias != "nope" {
		t.Fatalf("error detail = %v", err)
	}
}

func TestSchedulePastDue(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, &fakeGateway{})
	registerGroup(t, store, "team", "123@g.us")
	now := time.Now().UTC()

	_, err := svc.Schedule(context.Background(), "team", "x", now.Add(-time.Hour), now, "owner")
	if !errors.Is(err, ErrPastDue) {
		t.Fatalf("error = %v, want ErrPastDue", err)
	}
}

func TestScheduleGraceBumpsNearPast(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, &fakeGateway{})
	registerGroup(t, store, "team", "123@g.us")
	now := time.Now().UTC()

	job, err := svc.Schedule(context.Background(), "team", "x", now.Add(-time.Minute), now, "owner")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if !job.RunAt.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("RunAt = %v, want now+10s", job.RunAt)
	}
	if job.Status != storage.JobPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
}

func TestScheduleIdempotent(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, &fakeGateway{})
	registerGroup(t, store, "team", "123@g.us")
	now := time.Now().UTC()
	runAt := now.Add(time.Hour)

	first, err := svc.Schedule(context.Background(), "team", "same text", runAt, now, "owner")
	if err != nil {
		t.Fatalf("first Schedule error: %v", err)
	}
	second, err := svc.Schedule(context.Background(), "team", "same text", runAt, now.Add(time.Second), "owner")
	if err != nil {
		t.Fatalf("second Schedule error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate request created job %d, want %d", second.ID, first.ID)
	}

	jobs, err := svc.List(context.Background(), storage.JobPending)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(jobs))
	}
}

func TestScheduleAliasCaseInsensitive(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, &fakeGateway{})
	registerGroup(t, store, "team", "123@g.us")
	now := time.Now().UTC()

	job, err := svc.Schedule(context.Background(), "TeAm", "x", now.Add(time.Hour), now, "owner")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if job.GroupAlias != "team" || job.GroupID != "123@g.us" {
		t.Fatalf("job = %+v", job)
	}
}

func TestDeliverSendsAndFlipsStatus(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	registerGroup(t, store, "team", "123@g.us")

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer svc.Stop(context.Background())

	now := time.Now().UTC()
	job, err := svc.Schedule(context.Background(), "team", "hello", now.Add(50*time.Millisecond), now, "owner")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	waitForStatus(t, store, job.ID, storage.JobSent)
	sent := gw.sent()
	if len(sent) != 1 || sent[0] != "123@g.us|hello" {
		t.Fatalf("sends = %v", sent)
	}

	// The send opened a correlation window.
	c, err := store.GetCorrelationByJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetCorrelationByJob error: %v", err)
	}
	if c.BotMessageID != "wamid.test" {
		t.Fatalf("correlation = %+v", c)
	}
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	registerGroup(t, store, "team", "123@g.us")

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer svc.Stop(context.Background())

	now := time.Now().UTC()
	job, err := svc.Schedule(context.Background(), "team", "x", now.Add(time.Hour), now, "owner")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	if err := svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.Status != storage.JobCanceled {
		t.Fatalf("status = %s, want canceled", got.Status)
	}
	if len(gw.sent()) != 0 {
		t.Fatalf("canceled job was sent: %v", gw.sent())
	}

	// The per-job lock entry is released once the job is terminal.
	svc.lmu.Lock()
	_, held := svc.locks[job.ID]
	svc.lmu.Unlock()
	if held {
		t.Fatal("per-job lock retained after cancel")
	}
}

// Racing a cancel against the due-time fire must settle on exactly one
// terminal state per job: a canceled job never reaches the gateway, a sent
// job reaches it exactly once.
func TestCancelRacesTimerFire(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	svc.cfg.GraceDelay = time.Millisecond
	registerGroup(t, store, "team", "123@g.us")
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	const rounds = 30
	cancelWon := make(map[int64]bool, rounds)
	texts := make(map[int64]string, rounds)
	for i := 0; i < rounds; i++ {
		now := time.Now().UTC()
		text := fmt.Sprintf("contended %d", i)
		job, err := svc.Schedule(ctx, "team", text, now, now, "owner")
		if err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
		texts[job.ID] = text

		// The grace bump armed the timer ~1ms out, so this cancel runs
		// concurrently with the fire.
		switch err := svc.Cancel(ctx, job.ID); {
		case err == nil:
			cancelWon[job.ID] = true
		case errors.Is(err, ErrInvalidState):
		default:
			t.Fatalf("Cancel error: %v", err)
		}
	}

	// Stop drains in-flight deliveries before counting sends.
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	sends := make(map[string]int)
	for _, s := range gw.sent() {
		sends[s]++
	}
	for id, text := range texts {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob(%d) error: %v", id, err)
		}
		n := sends["123@g.us|"+text]
		if cancelWon[id] {
			if job.Status != storage.JobCanceled || n != 0 {
				t.Fatalf("job %d: status=%s sends=%d after winning cancel", id, job.Status, n)
			}
		} else {
			if job.Status != storage.JobSent || n != 1 {
				t.Fatalf("job %d: status=%s sends=%d after losing cancel", id, job.Status, n)
			}
		}
	}
}

func TestCancelErrors(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, &fakeGateway{})
	ctx := context.Background()

	if err := svc.Cancel(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel(9999) error = %v, want ErrNotFound", err)
	}

	id, err := store.InsertJob(ctx, storage.Job{GroupID: "g", GroupAlias: "a",
		Text: "x", RunAt: time.Now().UTC(), Status: storage.JobSent})
	if err != nil {
		t.Fatalf("InsertJob error: %v", err)
	}
	err = svc.Cancel(ctx, id)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Cancel(sent) error = %v, want ErrInvalidState", err)
	}
	var ise *InvalidStateError
	if !errors.As(err, &ise) || ise.Status != storage.JobSent {
		t.Fatalf("error detail = %v", err)
	}
}

func TestRearmPicksUpPersistedJobs(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	svc, store := newTestService(t, gw)
	registerGroup(t, store, "team", "123@g.us")
	ctx := context.Background()

	// Simulate a job persisted by a previous process: due almost immediately,
	// but no timer armed yet.
	id, err := store.InsertJob(ctx, storage.Job{GroupID: "123@g.us", GroupAlias: "team",
		Text: "restart me", RunAt: time.Now().UTC().Add(50 * time.Millisecond),
		Status: storage.JobPending})
	if err != nil {
		t.Fatalf("InsertJob error: %v", err)
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer svc.Stop(context.Background())

	waitForStatus(t, store, id, storage.JobSent)
	if len(gw.sent()) != 1 {
		t.Fatalf("sends = %v", gw.sent())
	}
}

func TestDeliverRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	gw := &retryGateway{failures: 2, err: &wa.APIError{StatusCode: 500, Message: "boom"}}
	svc, store := newTestService(t, gw)
	svc.cfg.RetryBase = 10 * time.Millisecond
	registerGroup(t, store, "team", "123@g.us")

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer svc.Stop(context.Background())

	now := time.Now().UTC()
	job, err := svc.Schedule(context.Background(), "team", "flaky", now.Add(20*time.Millisecond), now, "owner")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	waitForStatus(t, store, job.ID, storage.JobSent)
	if got := gw.attempts(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDeliverPermanentFailure(t *testing.T) {
	t.Parallel()
	// A 4xx API rejection is permanent; no retries.
	gw := &retryGateway{failures: 100, err: &wa.APIError{StatusCode: 400, Code: 131047, Message: "rejected"}}
	svc, store := newTestService(t, gw)
	registerGroup(t, store, "team", "123@g.us")

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer svc.Stop(context.Background())

	now := time.Now().UTC()
	job, err := svc.Schedule(context.Background(), "team", "doomed", now.Add(20*time.Millisecond), now, "owner")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	waitForStatus(t, store, job.ID, storage.JobFailed)
	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.LastError == "" {
		t.Fatal("LastError not recorded")
	}
	if gw.attempts() != 1 {
		t.Fatalf("attempts = %d, want 1", gw.attempts())
	}
}

// retryGateway fails the first N sends, then succeeds.
type retryGateway struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (g *retryGateway) SendText(context.Context, string, string) (wa.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.calls <= g.failures {
		return wa.SendResult{}, g.err
	}
	return wa.SendResult{MessageID: "wamid.retry"}, nil
}

func (g *retryGateway) attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func waitForStatus(t *testing.T, store *storage.Store, id int64, want storage.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := store.GetJob(context.Background(), id)
		if err == nil && j.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	j, _ := store.GetJob(context.Background(), id)
	t.Fatalf("job %d status = %s, want %s", id, j.Status, want)
}
