// Package sqlite backs the change-point index with an embedded SQLite
// database. The default driver for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"actdb/internal/persistence"
	"actdb/pkg/act"
)

// Index stores one row per (act, date) change point. Dates are ISO-8601
// strings, so lexical ordering matches chronological ordering and the
// point-in-time lookup is a single indexed range query.
type Index struct {
	db   *sql.DB
	path string
}

var _ persistence.Index = (*Index)(nil)

// NewIndex opens (or creates) the database at path.
func NewIndex(path string) (*Index, error) {
	if path == "" {
		path = "actdb.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer per file; a larger pool makes concurrent
	// statements fail with SQLITE_BUSY instead of queueing.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS change_points (
		act_key TEXT NOT NULL,
		date TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (act_key, date)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create change_points table: %w", err)
	}
	return &Index{db: db, path: path}, nil
}

func (x *Index) Put(ctx context.Context, cp persistence.ChangePoint) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO change_points(act_key,date,blob_key,note) VALUES(?,?,?,?)
		 ON CONFLICT(act_key,date) DO UPDATE SET blob_key=excluded.blob_key, note=excluded.note`,
		cp.Act.String(), cp.Date.String(), cp.Key, cp.Note)
	if err != nil {
		return fmt.Errorf("upsert change point: %w", err)
	}
	return nil
}

func (x *Index) Lookup(ctx context.Context, id act.Identifier, date act.Date) (persistence.ChangePoint, bool, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT date, blob_key, note FROM change_points
		 WHERE act_key = ? AND date <= ? ORDER BY date DESC LIMIT 1`,
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
		`SELECT date, blob_key, note FROM change_points WHERE act_key = ? ORDER BY date ASC`,
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
		`DELETE FROM change_points WHERE act_key = ? AND date >= ?`,
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

// Path returns the configured database path.
func (x *Index) Path() string { return x.path }

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
