package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const corrColumns = `id, job_id, group_id, bot_message_id, opened_at, expires_at, last_sender_id`

func scanCorrelation(row interface{ Scan(...any) error }) (Correlation, error) {
	var (
		c               Correlation
		opened, expires int64
		lastSender      sql.NullString
	)
	err := row.Scan(&c.ID, &c.JobID, &c.GroupID, &c.BotMessageID, &opened, &expires, &lastSender)
	if err != nil {
		return Correlation{}, err
	}
	c.OpenedAt = fromMS(opened)
	c.ExpiresAt = fromMS(expires)
	c.LastSenderID = lastSender.String
	return c, nil
}

// OpenCorrelation records the reply window for a delivered job.
// Creation is append-only per job id: re-opening an existing window is a
// no-op, so a retried delivery cannot move expires_at.
func (s *Store) OpenCorrelation(ctx context.Context, c Correlation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO correlations(job_id, group_id, bot_message_id, opened_at, expires_at, last_sender_id)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO NOTHING`,
		c.JobID, c.GroupID, c.BotMessageID, ms(c.OpenedAt), ms(c.ExpiresAt), nullStr(c.LastSenderID),
	)
	return err
}

func (s *Store) GetCorrelationByJob(ctx context.Context, jobID int64) (Correlation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+corrColumns+` FROM correlations WHERE job_id = ?`, jobID)
	c, err := scanCorrelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Correlation{}, ErrNotFound
	}
	return c, err
}

func (s *Store) GetCorrelationByBotMessage(ctx context.Context, botMessageID string) (Correlation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+corrColumns+` FROM correlations WHERE bot_message_id = ?`, botMessageID)
	c, err := scanCorrelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Correlation{}, ErrNotFound
	}
	return c, err
}

// LatestOpenCorrelation finds the entry for the group with the greatest
// opened_at <= at that is still inside its window (at < expires_at).
// Most-recently-opened wins when several windows overlap.
func (s *Store) LatestOpenCorrelation(ctx context.Context, groupID string, at time.Time) (Correlation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+corrColumns+` FROM correlations
		  WHERE group_id = ? AND opened_at <= ? AND expires_at > ?
		  ORDER BY opened_at DESC, id DESC LIMIT 1`,
		groupID, ms(at), ms(at))
	c, err := scanCorrelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Correlation{}, ErrNotFound
	}
	return c, err
}

// RecordCorrelationSender remembers the last group member who replied
// inside the window.
func (s *Store) RecordCorrelationSender(ctx context.Context, id int64, senderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE correlations SET last_sender_id = ? WHERE id = ?`, senderID, id)
	return err
}

// DeleteExpiredCorrelations drops entries whose window has closed.
// Idempotent; safe to run concurrently with lookups.
func (s *Store) DeleteExpiredCorrelations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM correlations WHERE expires_at < ?`, ms(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
