// Package replysession manages the owner's single reply slot: after a
// group reply is forwarded to the owner, the owner's next message routes
// back to that sender instead of being treated as a command.
//
// State machine: Idle -> Active (Start) -> Idle (Consume or expiry).
// Start overwrites any active session (last write wins); Consume is
// single-use and fails closed on expiry.
package replysession

import (
	"context"
	"sync"
	"time"

	"wagenda/internal/storage"
	"wagenda/pkg/logx"
)

type Manager struct {
	store *storage.Store
	log   logx.Logger

	mu      sync.RWMutex
	timeout time.Duration
}

func New(store *storage.Store, timeout time.Duration, log logx.Logger) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: store, timeout: timeout, log: log}
}

// SetTimeout changes the lifetime applied to future sessions.
func (m *Manager) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

func (m *Manager) Timeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeout
}

// Start opens (or replaces) the owner's session targeting senderID in
// groupID. Sessions are persisted so a restart does not silently drop an
// active routing intent.
func (m *Manager) Start(ctx context.Context, ownerID, senderID, groupID string, now time.Time) (storage.ReplySession, error) {
	now = now.UTC()
	rs := storage.ReplySession{
		OwnerID:        ownerID,
		TargetSenderID: senderID,
		TargetGroupID:  groupID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.Timeout()),
	}
	if err := m.store.PutReplySession(ctx, rs); err != nil {
		return storage.ReplySession{}, err
	}
	m.log.Debug("reply session started",
		logx.String("owner", ownerID),
		logx.String("target", senderID),
		logx.Time("expires_at", rs.ExpiresAt))
	return rs, nil
}

// Consume takes the owner's session if one is live at now. The slot is
// destroyed either way (single-use); an expired slot never routes.
func (m *Manager) Consume(ctx context.Context, ownerID string, now time.Time) (storage.ReplySession, bool, error) {
	rs, ok, err := m.store.ConsumeReplySession(ctx, ownerID, now.UTC())
	if err != nil {
		return storage.ReplySession{}, false, err
	}
	if ok {
		m.log.Debug("reply session consumed",
			logx.String("owner", ownerID),
			logx.String("target", rs.TargetSenderID))
	}
	return rs, ok, nil
}

// Sweep drops expired sessions. Lazy expiry in Consume already fails
// closed; this just keeps the table from accumulating dead slots.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return m.store.DeleteExpiredReplySessions(ctx, now.UTC())
}
