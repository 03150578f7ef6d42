// Package recalc drives recalculation: it replays each act's amendment
// list through the scheduler and materializes a snapshot at every change
// point. Acts are independent, so the driver fans out across them.
package recalc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"actdb/internal/schedule"
	"actdb/internal/snapshot"
	"actdb/pkg/act"
	"actdb/pkg/amend"
)

// Input is one act together with every amendment targeting it.
type Input struct {
	Act        act.Act
	Amendments []*amend.Amendment
}

// ActResult reports one act's recalculation outcome.
type ActResult struct {
	Act act.Identifier
	// Written counts snapshot records materialized in this run. Zero
	// means the act was already up to date.
	Written int
	// Rebuilt is set when committed history had to be discarded because it
	// no longer matched the schedule computed from the amendment list, for
	// example after a new amendment rescheduled an already-applied date.
	Rebuilt bool
	// Err is the failure that aborted this act, nil on success. A failed
	// act keeps its last committed state; other acts are unaffected.
	Err error
}

// Report summarizes one recalculation run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []ActResult
}

// Err aggregates per-act failures, nil when every act succeeded.
func (r *Report) Err() error {
	var failed []string
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", res.Act, res.Err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d act(s) failed: %s", len(failed), strings.Join(failed, "; "))
}

// Options tunes a Driver. The zero value is usable.
type Options struct {
	// Parallelism bounds concurrent per-act recalculations (default
	// runtime.NumCPU).
	Parallelism int
}

// Driver recalculates act states against a snapshot store.
type Driver struct {
	store       *snapshot.Store
	parallelism int
}

func NewDriver(store *snapshot.Store, opts Options) *Driver {
	p := opts.Parallelism
	if p <= 0 {
		p = runtime.NumCPU()
	}
	return &Driver{store: store, parallelism: p}
}

// Run recalculates every input act up to and including the until date.
// The returned error covers run-level failures only; per-act failures
// land in the report.
func (d *Driver) Run(ctx context.Context, inputs []Input, until act.Date) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Results: make([]ActResult, len(inputs)),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i, in := range inputs {
		g.Go(func() error {
			report.Results[i] = d.recalcAct(ctx, in, until)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Finished = time.Now().UTC()
	return report, nil
}

func (d *Driver) recalcAct(ctx context.Context, in Input, until act.Date) ActResult {
	res := ActResult{Act: in.Act.ID}
	if in.Act.ID.IsZero() || in.Act.Root == nil {
		res.Err = errors.New("input act is missing identifier or text")
		return res
	}

	// Register everything on a fresh scheduler first: reschedules rewrite
	// the dates of earlier pending entries, so the final schedule is only
	// known once the whole amendment list has been consumed.
	sched := schedule.New(in.Act.ID)
	for _, a := range in.Amendments {
		if err := sched.Register(a); err != nil {
			res.Err = fmt.Errorf("register amendment %s: %w", a.Actor, err)
			return res
		}
	}
	expected := make([]act.Date, 0, len(in.Amendments))
	for _, date := range sched.PendingDates() {
		// Changes dated at or before publication never materialize a
		// change point of their own.
		if date.After(in.Act.PublicationDate) {
			expected = append(expected, date)
		}
	}

	latest, resumed, err := d.store.Latest(ctx, in.Act.ID)
	if err != nil {
		res.Err = fmt.Errorf("read latest change point: %w", err)
		return res
	}
	if resumed {
		// Resuming is only safe when the committed points are a prefix of
		// the schedule. A mismatch means an amendment landed inside history
		// that was materialized without it, typically a reschedule moving a
		// change to an already-applied date; drop the committed points and
		// replay from the original text.
		ok, err := d.historyMatches(ctx, in.Act, expected, latest.Date)
		if err != nil {
			res.Err = err
			return res
		}
		if !ok {
			if _, err := d.store.Invalidate(ctx, in.Act.ID, in.Act.PublicationDate); err != nil {
				res.Err = fmt.Errorf("invalidate committed history: %w", err)
				return res
			}
			res.Rebuilt = true
			resumed = false
		}
	}

	var current *act.Act
	if resumed {
		sched.SetCommitted(latest.Date)
		current, _, err = d.store.GetAt(ctx, in.Act.ID, latest.Date)
		if err != nil {
			res.Err = fmt.Errorf("load committed state: %w", err)
			return res
		}
	} else {
		current = &act.Act{
			ID:              in.Act.ID,
			Title:           in.Act.Title,
			PublicationDate: in.Act.PublicationDate,
			Root:            act.CloneDeep(in.Act.Root),
		}
		if _, err := d.store.Put(ctx, snapshot.Record{
			Act:  *current,
			Date: in.Act.PublicationDate,
			Note: "original text",
		}); err != nil {
			res.Err = fmt.Errorf("store original text: %w", err)
			return res
		}
		res.Written++
		sched.SetCommitted(in.Act.PublicationDate)
	}

	for _, point := range sched.AdvanceTo(until) {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		newRoot, err := amend.Apply(current.Root, point.Changes)
		if err != nil {
			res.Err = fmt.Errorf("apply changes at %s: %w", point.Date, err)
			return res
		}
		current.Root = newRoot
		if _, err := d.store.Put(ctx, snapshot.Record{
			Act:  *current,
			Date: point.Date,
			Note: noteFor(point.Causes),
		}); err != nil {
			res.Err = fmt.Errorf("store snapshot at %s: %w", point.Date, err)
			return res
		}
		if err := sched.Commit(point.Date); err != nil {
			res.Err = err
			return res
		}
		res.Written++
	}
	return res
}

// historyMatches reports whether the act's committed change points are
// consistent with the expected schedule dates: the original text at the
// publication date followed, in order, by every expected date up to the
// latest committed one.
func (d *Driver) historyMatches(ctx context.Context, a act.Act, expected []act.Date, latest act.Date) (bool, error) {
	points, err := d.store.ChangePoints(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("read change points: %w", err)
	}
	if len(points) == 0 || points[0].Date != a.PublicationDate {
		return false, nil
	}
	i := 0
	for _, cp := range points[1:] {
		if i >= len(expected) || expected[i] != cp.Date {
			return false, nil
		}
		i++
	}
	// Every expected date inside committed history must be materialized.
	if i < len(expected) && !expected[i].After(latest) {
		return false, nil
	}
	return true, nil
}

func noteFor(causes []act.Identifier) string {
	seen := make(map[act.Identifier]struct{}, len(causes))
	var parts []string
	for _, c := range causes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		parts = append(parts, c.String())
	}
	return "amended by " + strings.Join(parts, ", ")
}
