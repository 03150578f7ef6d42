// Package persistence defines the change-point index: the per-act mapping
// from sorted change-point dates to snapshot record locations. Backends
// live under internal/infra/persistence; the in-memory implementation here
// doubles as the reference semantics and the test double.
package persistence

import (
	"context"

	"actdb/pkg/act"
)

// ChangePoint is one committed (act, effective date) pair together with
// the blob key of the snapshot record materialized there.
type ChangePoint struct {
	Act  act.Identifier `json:"act"`
	Date act.Date       `json:"date"`
	// Key is the content-addressed blob key of the snapshot record.
	Key string `json:"key"`
	// Note is a short description of what changed, for change-log
	// navigation ("amended by 2020/7").
	Note string `json:"note,omitempty"`
}

// Index stores committed change points per act. Implementations must
// serialize writes per act with concurrent reads; writers for different
// acts never contend on the same rows.
type Index interface {
	// Put records a change point. Re-putting the same (act, date) with the
	// same key is a no-op; a different key replaces the row (regeneration
	// after an invalidated schedule).
	Put(ctx context.Context, cp ChangePoint) error
	// Lookup returns the change point in force at date: the latest one at
	// or before it. ok is false when the act has no change point yet.
	Lookup(ctx context.Context, id act.Identifier, date act.Date) (ChangePoint, bool, error)
	// List returns all change points of the act in ascending date order.
	List(ctx context.Context, id act.Identifier) ([]ChangePoint, error)
	// DeleteFrom removes change points at or after date, returning how
	// many were dropped. Used when a newly discovered reschedule
	// invalidates previously materialized dates.
	DeleteFrom(ctx context.Context, id act.Identifier, date act.Date) (int, error)
	Close() error
}
