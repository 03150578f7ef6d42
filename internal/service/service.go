// Package service is the read-side facade: point-in-time state, change
// logs and diffs between two dates of the same act.
package service

import (
	"context"
	"fmt"

	"actdb/internal/diffengine"
	"actdb/internal/persistence"
	"actdb/internal/snapshot"
	"actdb/pkg/act"
)

type Service struct {
	store *snapshot.Store
}

func New(store *snapshot.Store) *Service {
	return &Service{store: store}
}

// State returns the act as in force at date, together with the change
// point that produced it.
func (s *Service) State(ctx context.Context, id act.Identifier, date act.Date) (*act.Act, persistence.ChangePoint, error) {
	return s.store.GetAt(ctx, id, date)
}

// ChangePoints lists the act's committed change points in ascending
// date order.
func (s *Service) ChangePoints(ctx context.Context, id act.Identifier) ([]persistence.ChangePoint, error) {
	return s.store.ChangePoints(ctx, id)
}

// DiffResult is a structural diff between two dates of one act.
type DiffResult struct {
	Act  act.Identifier
	From persistence.ChangePoint
	To   persistence.ChangePoint
	// Entries lists the changed nodes in document order of the newer
	// state. Empty when both dates fall inside the same change period.
	Entries []diffengine.Entry
}

// Diff compares the act's states at two dates. The from date must not be
// after the to date.
func (s *Service) Diff(ctx context.Context, id act.Identifier, from, to act.Date) (*DiffResult, error) {
	if from.After(to) {
		return nil, fmt.Errorf("diff range reversed: %s after %s", from, to)
	}
	left, leftCP, err := s.store.GetAt(ctx, id, from)
	if err != nil {
		return nil, err
	}
	right, rightCP, err := s.store.GetAt(ctx, id, to)
	if err != nil {
		return nil, err
	}
	result := &DiffResult{Act: id, From: leftCP, To: rightCP}
	if leftCP.Key == rightCP.Key {
		return result, nil
	}
	result.Entries = diffengine.Diff(left.Root, right.Root, diffengine.Options{})
	return result, nil
}
