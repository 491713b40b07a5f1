package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// UpsertGroup registers or re-points an alias. Aliases are case-insensitive
// and stored lowercase.
func (s *Store) UpsertGroup(ctx context.Context, g Group) (Group, error) {
	g.Alias = strings.ToLower(strings.TrimSpace(g.Alias))
	if g.Alias == "" {
		return Group{}, errors.New("storage: alias is required")
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(alias, group_id, name, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(alias) DO UPDATE SET group_id = excluded.group_id, name = excluded.name`,
		g.Alias, g.GroupID, nullStr(g.Name), ms(g.CreatedAt),
	)
	return g, err
}

func (s *Store) GetGroup(ctx context.Context, alias string) (Group, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	var (
		g         Group
		name      sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT alias, group_id, name, created_at FROM groups WHERE alias = ?`, alias,
	).Scan(&g.Alias, &g.GroupID, &name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, err
	}
	g.Name = name.String
	g.CreatedAt = fromMS(createdAt)
	return g, nil
}

// DeleteGroup removes an alias. It reports whether the alias existed.
func (s *Store) DeleteGroup(ctx context.Context, alias string) (bool, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE alias = ?`, alias)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, group_id, name, created_at FROM groups ORDER BY alias ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g         Group
			name      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&g.Alias, &g.GroupID, &name, &createdAt); err != nil {
			return nil, err
		}
		g.Name = name.String
		g.CreatedAt = fromMS(createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}
