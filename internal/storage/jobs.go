package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const jobColumns = `id, group_id, group_alias, text, run_at, created_by, created_at, status, last_error, correlation_key`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var (
		j                Job
		runAt, createdAt int64
		lastErr, corrKey sql.NullString
		status           string
	)
	err := row.Scan(&j.ID, &j.GroupID, &j.GroupAlias, &j.Text, &runAt, &j.CreatedBy,
		&createdAt, &status, &lastErr, &corrKey)
	if err != nil {
		return Job{}, err
	}
	j.RunAt = fromMS(runAt)
	j.CreatedAt = fromMS(createdAt)
	j.Status = JobStatus(status)
	j.LastError = lastErr.String
	j.CorrelationKey = corrKey.String
	return j, nil
}

// InsertJob persists a new pending job and returns its id.
func (s *Store) InsertJob(ctx context.Context, j Job) (int64, error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(group_id, group_alias, text, run_at, created_by, created_at, status, last_error, correlation_key)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		j.GroupID, j.GroupAlias, j.Text, ms(j.RunAt), j.CreatedBy, ms(j.CreatedAt),
		string(j.Status), nullStr(j.LastError), nullStr(j.CorrelationKey),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetJob(ctx context.Context, id int64) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// GetJobByCorrelationKey returns the job holding the given dedupe key, if any.
func (s *Store) GetJobByCorrelationKey(ctx context.Context, key string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE correlation_key = ?`, key)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs ordered by run time ascending.
// An empty status lists all jobs.
func (s *Store) ListJobs(ctx context.Context, status JobStatus) ([]Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY run_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CASJobStatus flips a job from one status to another in a single atomic
// statement. It reports whether this caller won the transition; a false
// return with nil error means the job was not in the expected state
// (already terminal, or missing).
func (s *Store) CASJobStatus(ctx context.Context, id int64, from, to JobStatus, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ? WHERE id = ? AND status = ?`,
		string(to), nullStr(lastError), id, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetJobError records error detail without changing status
// (used between delivery retry attempts).
func (s *Store) SetJobError(ctx context.Context, id int64, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_error = ? WHERE id = ?`, nullStr(detail), id)
	return err
}
