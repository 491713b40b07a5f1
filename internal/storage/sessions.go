package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PutReplySession installs or replaces the owner's reply session slot
// (last write wins).
func (s *Store) PutReplySession(ctx context.Context, rs ReplySession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_sessions(owner_id, target_sender_id, target_group_id, created_at, expires_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   target_sender_id = excluded.target_sender_id,
		   target_group_id  = excluded.target_group_id,
		   created_at       = excluded.created_at,
		   expires_at       = excluded.expires_at`,
		rs.OwnerID, rs.TargetSenderID, rs.TargetGroupID, ms(rs.CreatedAt), ms(rs.ExpiresAt),
	)
	return err
}

// ConsumeReplySession atomically takes the owner's session if it is still
// live at now. Expired slots are removed but not returned (fail closed).
// The second return value reports whether a live session was consumed.
func (s *Store) ConsumeReplySession(ctx context.Context, ownerID string, now time.Time) (ReplySession, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReplySession{}, false, err
	}
	defer tx.Rollback()

	var (
		rs               ReplySession
		created, expires int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, target_sender_id, target_group_id, created_at, expires_at
		   FROM reply_sessions WHERE owner_id = ?`, ownerID,
	).Scan(&rs.OwnerID, &rs.TargetSenderID, &rs.TargetGroupID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return ReplySession{}, false, nil
	}
	if err != nil {
		return ReplySession{}, false, err
	}
	rs.CreatedAt = fromMS(created)
	rs.ExpiresAt = fromMS(expires)

	// Single-use: the slot goes away whether it routed or expired.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reply_sessions WHERE owner_id = ?`, ownerID); err != nil {
		return ReplySession{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return ReplySession{}, false, err
	}

	if !now.Before(rs.ExpiresAt) {
		return ReplySession{}, false, nil
	}
	return rs, true, nil
}

// DeleteExpiredReplySessions sweeps dead slots. Idempotent.
func (s *Store) DeleteExpiredReplySessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reply_sessions WHERE expires_at <= ?`, ms(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
