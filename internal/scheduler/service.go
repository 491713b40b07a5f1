// Package scheduler converts owner commands into persisted jobs, arms a
// one-shot timer per pending job, and delivers due jobs through the
// messaging gateway.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wagenda/internal/correlate"
	"wagenda/internal/storage"
	"wagenda/internal/wa"
	"wagenda/pkg/logx"
)

// Gateway is the outbound messaging surface the scheduler needs.
type Gateway interface {
	SendText(ctx context.Context, to, text string) (wa.SendResult, error)
}

// Config controls scheduling policy.
type Config struct {
	// Grace window for near-past schedule requests: anything at most this
	// far in the past is bumped to now+GraceDelay instead of rejected.
	GraceWindow time.Duration // default 5m
	GraceDelay  time.Duration // default 10s

	RetryMax      int           // delivery attempts, default 5
	RetryBase     time.Duration // default 30s
	RetryMaxDelay time.Duration // default 10m
}

func (c Config) withDefaults() Config {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 5 * time.Minute
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 10 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Minute
	}
	return c
}

type Service struct {
	cfg     Config
	store   *storage.Store
	gw      Gateway
	tracker *correlate.Tracker
	log     logx.Logger

	// one-shot timers keyed by job id; versions kill stale callbacks
	// from timers that were replaced or disarmed.
	tmu      sync.Mutex
	timers   map[int64]*time.Timer
	timerVer map[int64]uint64

	// per-job locks serialize deliver vs cancel within this process so a
	// cancel can never slip between the status check and the dispatch.
	lmu   sync.Mutex
	locks map[int64]*sync.Mutex

	mu        sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	stopped   bool
	wg        sync.WaitGroup
}

func New(cfg Config, store *storage.Store, gw Gateway, tracker *correlate.Tracker, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		gw:       gw,
		tracker:  tracker,
		log:      log,
		timers:   map[int64]*time.Timer{},
		timerVer: map[int64]uint64{},
		locks:    map[int64]*sync.Mutex{},
		stopped:  true,
	}
}

// Start re-arms all pending jobs and begins accepting timer fires.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.stopped = false
	s.mu.Unlock()

	return s.Rearm(ctx)
}

// Stop disarms timers and waits for in-flight deliveries.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.tmu.Lock()
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
		s.timerVer[id]++
	}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rearm ensures every pending job in the store has a live timer. Jobs
// already armed are left alone; already-due jobs fire immediately. Safe to
// run periodically as a sweep against lost timers.
func (s *Service) Rearm(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx, storage.JobPending)
	if err != nil {
		return err
	}
	armed := 0
	for _, j := range jobs {
		if s.armIfAbsent(j.ID, j.RunAt) {
			armed++
		}
	}
	if armed > 0 {
		s.log.Info("pending jobs armed", logx.Int("count", armed), logx.Int("pending", len(jobs)))
	}
	return nil
}

// Schedule validates and persists a new job, then arms its trigger.
//
// A run time in the past is rejected with ErrPastDue unless it is within
// the grace window, in which case it is bumped to now+GraceDelay (covers
// "in 1 minute" requests that aged while the owner typed). Scheduling is
// idempotent over (group, text, run time): a duplicate request returns the
// existing job.
func (s *Service) Schedule(ctx context.Context, alias, text string, runAt, now time.Time, createdBy string) (storage.Job, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	group, err := s.store.GetGroup(ctx, alias)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Job{}, &UnknownAliasError{Alias: alias}
	}
	if err != nil {
		return storage.Job{}, err
	}

	now = now.UTC()
	runAt = runAt.UTC()
	if !runAt.After(now) {
		if now.Sub(runAt) > s.cfg.GraceWindow {
			return storage.Job{}, ErrPastDue
		}
		runAt = now.Add(s.cfg.GraceDelay)
	}

	key := correlationKey(group.GroupID, text, runAt)
	if existing, err := s.store.GetJobByCorrelationKey(ctx, key); err == nil {
		s.armIfAbsent(existing.ID, existing.RunAt)
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Job{}, err
	}

	job := storage.Job{
		GroupID:        group.GroupID,
		GroupAlias:     group.Alias,
		Text:           text,
		RunAt:          runAt,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		Status:         storage.JobPending,
		CorrelationKey: key,
	}
	id, err := s.store.InsertJob(ctx, job)
	if err != nil {
		return storage.Job{}, err
	}
	job.ID = id

	s.arm(id, runAt)
	s.log.Info("job scheduled",
		logx.Int64("job_id", id),
		logx.String("alias", group.Alias),
		logx.Time("run_at", runAt))
	return job, nil
}

// Cancel flips a pending job to canceled and disarms its trigger.
// The status flip is a compare-and-set, so racing with the due-time fire
// yields exactly one winner; a fire that already claimed the job makes
// Cancel report InvalidState.
func (s *Service) Cancel(ctx context.Context, jobID int64) error {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	won, err := s.store.CASJobStatus(ctx, jobID, storage.JobPending, storage.JobCanceled, "")
	if err != nil {
		return err
	}
	if won {
		s.disarm(jobID)
		s.dropJobLock(jobID)
		s.log.Info("job canceled", logx.Int64("job_id", jobID))
		return nil
	}

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &InvalidStateError{JobID: jobID, Status: job.Status}
}

// List returns jobs ordered by due time ascending. An empty status lists
// everything.
func (s *Service) List(ctx context.Context, status storage.JobStatus) ([]storage.Job, error) {
	return s.store.ListJobs(ctx, status)
}

func correlationKey(groupID, text string, runAt time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", groupID, text, runAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}

func (s *Service) jobLock(id int64) *sync.Mutex {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Service) dropJobLock(id int64) {
	s.lmu.Lock()
	delete(s.locks, id)
	s.lmu.Unlock()
}

// arm installs (or replaces) the one-shot timer for a job.
func (s *Service) arm(jobID int64, runAt time.Time) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.armLocked(jobID, runAt)
}

// armIfAbsent arms only when no live timer exists, so periodic re-arm
// sweeps do not reset timers that are already counting down. It reports
// whether a timer was installed.
func (s *Service) armIfAbsent(jobID int64, runAt time.Time) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if _, ok := s.timers[jobID]; ok {
		return false
	}
	s.armLocked(jobID, runAt)
	return true
}

func (s *Service) armLocked(jobID int64, runAt time.Time) {
	if t, ok := s.timers[jobID]; ok {
		_ = t.Stop()
		delete(s.timers, jobID)
	}
	ver := s.timerVer[jobID] + 1
	s.timerVer[jobID] = ver

	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}
	s.timers[jobID] = time.AfterFunc(delay, func() { s.fire(jobID, ver) })
}

func (s *Service) disarm(jobID int64) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[jobID]; ok {
		_ = t.Stop()
		delete(s.timers, jobID)
	}
	s.timerVer[jobID]++
}

func (s *Service) fire(jobID int64, ver uint64) {
	s.tmu.Lock()
	if s.timerVer[jobID] != ver {
		// replaced or disarmed; stale callback
		s.tmu.Unlock()
		return
	}
	delete(s.timers, jobID)
	s.tmu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.deliver(ctx, jobID)
}
