// Package correlate tracks which delivered posts are still "open" for
// reply forwarding, and matches inbound group replies back to them.
package correlate

import (
	"context"
	"errors"
	"sync"
	"time"

	"wagenda/internal/storage"
	"wagenda/pkg/logx"
)

type Tracker struct {
	store *storage.Store
	log   logx.Logger

	mu     sync.RWMutex
	window time.Duration
}

func New(store *storage.Store, window time.Duration, log logx.Logger) *Tracker {
	if window <= 0 {
		window = 12 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, window: window, log: log}
}

// SetWindow changes the window applied to future opens. Existing entries
// keep the expiry they were created with.
func (t *Tracker) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.window = d
	t.mu.Unlock()
}

func (t *Tracker) Window() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.window
}

// Open records the reply window for a just-delivered job. Opening is
// append-only per job: calling it again for the same job keeps the
// original window.
func (t *Tracker) Open(ctx context.Context, jobID int64, groupID, botMessageID string, openedAt time.Time) (storage.Correlation, error) {
	c := storage.Correlation{
		JobID:        jobID,
		GroupID:      groupID,
		BotMessageID: botMessageID,
		OpenedAt:     openedAt.UTC(),
		ExpiresAt:    openedAt.UTC().Add(t.Window()),
	}
	if err := t.store.OpenCorrelation(ctx, c); err != nil {
		return storage.Correlation{}, err
	}
	t.log.Debug("correlation opened",
		logx.Int64("job_id", jobID),
		logx.String("group_id", groupID),
		logx.Time("expires_at", c.ExpiresAt))
	return c, nil
}

// Match correlates an inbound group reply with an open entry.
//
// A quoted bot message (contextMessageID) matches directly when its window
// is still open at receivedAt. Otherwise the entry for the group with the
// greatest opened_at <= receivedAt < expires_at wins; overlapping windows
// resolve to the most recently opened. A nil result means no match and the
// reply must not be forwarded.
func (t *Tracker) Match(ctx context.Context, groupID, senderID, contextMessageID string, receivedAt time.Time) (*storage.Correlation, error) {
	receivedAt = receivedAt.UTC()

	if contextMessageID != "" {
		c, err := t.store.GetCorrelationByBotMessage(ctx, contextMessageID)
		switch {
		case err == nil:
			if inWindow(c, receivedAt) {
				return t.matched(ctx, c, senderID)
			}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}

	c, err := t.store.LatestOpenCorrelation(ctx, groupID, receivedAt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !inWindow(c, receivedAt) {
		return nil, nil
	}
	return t.matched(ctx, c, senderID)
}

func (t *Tracker) matched(ctx context.Context, c storage.Correlation, senderID string) (*storage.Correlation, error) {
	if senderID != "" {
		if err := t.store.RecordCorrelationSender(ctx, c.ID, senderID); err != nil {
			return nil, err
		}
		c.LastSenderID = senderID
	}
	return &c, nil
}

func inWindow(c storage.Correlation, at time.Time) bool {
	return !at.Before(c.OpenedAt) && at.Before(c.ExpiresAt)
}

// Cleanup removes entries whose window has closed. Idempotent and safe to
// run concurrently with Match: a lookup losing the race sees "no match",
// never an expired hit.
func (t *Tracker) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	n, err := t.store.DeleteExpiredCorrelations(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Debug("expired correlations removed", logx.Int64("count", n))
	}
	return n, nil
}
