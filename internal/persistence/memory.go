package persistence

import (
	"context"
	"sort"
	"sync"

	"actdb/pkg/act"
)

// Memory is the in-memory Index. Change points per act are kept sorted by
// date so point-in-time lookup is a binary search.
type Memory struct {
	mu   sync.RWMutex
	acts map[act.Identifier][]ChangePoint
}

func NewMemory() *Memory {
	return &Memory{acts: make(map[act.Identifier][]ChangePoint)}
}

func (m *Memory) Put(_ context.Context, cp ChangePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := m.acts[cp.Act]
	i := sort.Search(len(points), func(i int) bool {
		return !points[i].Date.Before(cp.Date)
	})
	if i < len(points) && points[i].Date == cp.Date {
		points[i] = cp
		return nil
	}
	points = append(points, ChangePoint{})
	copy(points[i+1:], points[i:])
	points[i] = cp
	m.acts[cp.Act] = points
	return nil
}

func (m *Memory) Lookup(_ context.Context, id act.Identifier, date act.Date) (ChangePoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := m.acts[id]
	// First index strictly after date; the answer is the one before it.
	i := sort.Search(len(points), func(i int) bool {
		return points[i].Date.After(date)
	})
	if i == 0 {
		return ChangePoint{}, false, nil
	}
	return points[i-1], true, nil
}

func (m *Memory) List(_ context.Context, id act.Identifier) ([]ChangePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := m.acts[id]
	out := make([]ChangePoint, len(points))
	copy(out, points)
	return out, nil
}

func (m *Memory) DeleteFrom(_ context.Context, id act.Identifier, date act.Date) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := m.acts[id]
	i := sort.Search(len(points), func(i int) bool {
		return !points[i].Date.Before(date)
	})
	dropped := len(points) - i
	if dropped == 0 {
		return 0, nil
	}
	m.acts[id] = points[:i:i]
	return dropped, nil
}

func (m *Memory) Close() error { return nil }
