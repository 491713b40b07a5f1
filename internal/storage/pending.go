package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// PutPendingSchedule stores the owner's two-step schedule slot
// (alias + time, content to follow). One slot per owner.
func (s *Store) PutPendingSchedule(ctx context.Context, p PendingSchedule) error {
	p.GroupAlias = strings.ToLower(strings.TrimSpace(p.GroupAlias))
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_schedules(owner_id, group_alias, run_at, created_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   group_alias = excluded.group_alias,
		   run_at      = excluded.run_at,
		   created_at  = excluded.created_at`,
		p.OwnerID, p.GroupAlias, ms(p.RunAt), ms(p.CreatedAt),
	)
	return err
}

func (s *Store) GetPendingSchedule(ctx context.Context, ownerID string) (PendingSchedule, error) {
	var (
		p                PendingSchedule
		runAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, group_alias, run_at, created_at
		   FROM pending_schedules WHERE owner_id = ?`, ownerID,
	).Scan(&p.OwnerID, &p.GroupAlias, &runAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingSchedule{}, ErrNotFound
	}
	if err != nil {
		return PendingSchedule{}, err
	}
	p.RunAt = fromMS(runAt)
	p.CreatedAt = fromMS(createdAt)
	return p, nil
}

// ClearPendingSchedule drops the slot. It reports whether one existed.
func (s *Store) ClearPendingSchedule(ctx context.Context, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_schedules WHERE owner_id = ?`, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteStalePendingSchedules removes slots created before the cutoff.
func (s *Store) DeleteStalePendingSchedules(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_schedules WHERE created_at < ?`, ms(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
