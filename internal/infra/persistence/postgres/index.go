// Package postgres backs the change-point index with PostgreSQL for
// deployments where several recalculation workers share one index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver

	"actdb/internal/persistence"
	"actdb/pkg/act"
)

// Index stores change points in a single table keyed by (act, date).
// Dates use the native DATE type; comparisons happen server-side.
type Index struct {
	db *sql.DB
}

var _ persistence.Index = (*Index)(nil)

// NewIndex connects with the given DSN and ensures the schema exists.
func NewIndex(ctx context.Context, dsn string) (*Index, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS change_points (
		act_key TEXT NOT NULL,
		date DATE NOT NULL,
		blob_key TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (act_key, date)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create change_points table: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Put(ctx context.Context, cp persistence.ChangePoint) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO change_points(act_key,date,blob_key,note) VALUES($1,$2,$3,$4)
		 ON CONFLICT(act_key,date) DO UPDATE SET blob_key=excluded.blob_key, note=excluded.note`,
		cp.Act.String(), cp.Date.String(), cp.Key, cp.Note)
	if err != nil {
		return fmt.Errorf("upsert change point: %w", err)
	}
	return nil
}

func (x *Index) Lookup(ctx context.Context, id act.Identifier, date act.Date) (persistence.ChangePoint, bool, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'), blob_key, note FROM change_points
		 WHERE act_key = $1 AND date <= $2 ORDER BY date DESC LIMIT 1`,
		id.String(), date.String())
	cp, err := scanPoint(row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ChangePoint{}, false, nil
	}
	if err != nil {
		return persistence.ChangePoint{}, false, fmt.Errorf("lookup change point: %w", err)
	}
	return cp, true, nil
}

func (x *Index) List(ctx context.Context, id act.Identifier) ([]persistence.ChangePoint, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'), blob_key, note FROM change_points
		 WHERE act_key = $1 ORDER BY date ASC`,
		id.String())
	if err != nil {
		return nil, fmt.Errorf("list change points: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []persistence.ChangePoint
	for rows.Next() {
		cp, err := scanPoint(rows, id)
		if err != nil {
			return nil, fmt.Errorf("scan change point: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list change points: %w", err)
	}
	return out, nil
}

func (x *Index) DeleteFrom(ctx context.Context, id act.Identifier, date act.Date) (int, error) {
	res, err := x.db.ExecContext(ctx,
		`DELETE FROM change_points WHERE act_key = $1 AND date >= $2`,
		id.String(), date.String())
	if err != nil {
		return 0, fmt.Errorf("delete change points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (x *Index) Close() error { return x.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanPoint(s scanner, id act.Identifier) (persistence.ChangePoint, error) {
	var dateText string
	cp := persistence.ChangePoint{Act: id}
	if err := s.Scan(&dateText, &cp.Key, &cp.Note); err != nil {
		return persistence.ChangePoint{}, err
	}
	date, err := act.ParseDate(dateText)
	if err != nil {
		return persistence.ChangePoint{}, fmt.Errorf("stored date %q: %w", dateText, err)
	}
	cp.Date = date
	return cp, nil
}
