// Package schedule maintains the pending set of not-yet-applied changes
// for one act, keyed by effective date. The set is mutable until a date is
// committed: a later amendment may rewrite the effective date of an
// earlier, still pending one (a transitive reschedule), so the schedule
// cannot be computed by a one-pass sort. One Scheduler instance is owned by
// one recalculation worker; it is not safe for concurrent use.
package schedule

import (
	"errors"
	"fmt"
	"sort"

	"actdb/pkg/act"
	"actdb/pkg/amend"
)

// ErrInvalidReschedule is returned when an enforcement-date override
// targets a change that has already been committed or was never seen, or
// would move a pending change to a date at or before the high-water mark.
// Committed history is immutable.
var ErrInvalidReschedule = errors.New("invalid reschedule")

// entry is one amendment's instruction subset pending at one effective
// date. An amendment with per-instruction dates registers as several
// entries. The date starts as declared and may be rewritten while pending.
type entry struct {
	actor        act.Identifier
	seq          int
	instructions []amend.Instruction
	effective    act.Date
}

// Scheduler tracks pending amendments for a single act.
type Scheduler struct {
	subject      act.Identifier
	pending      []*entry
	highWater    act.Date
	hasHighWater bool
}

// New returns an empty scheduler for the given act.
func New(subject act.Identifier) *Scheduler {
	return &Scheduler{subject: subject}
}

// SetCommitted raises the high-water mark to date, discarding pending
// entries at or before it. Used to resume a recalculation from the last
// committed change point.
func (s *Scheduler) SetCommitted(date act.Date) {
	s.highWater = date
	s.hasHighWater = true
	kept := s.pending[:0]
	for _, e := range s.pending {
		if e.effective.After(date) {
			kept = append(kept, e)
		}
	}
	s.pending = kept
}

// HighWater returns the latest committed date, if any.
func (s *Scheduler) HighWater() (act.Date, bool) { return s.highWater, s.hasHighWater }

// Register adds an amendment's instructions to the pending set at its
// declared effective date (or an instruction's own date where one is
// declared). Reschedule instructions are consumed here: each rewrites the
// current effective date of every pending entry of the targeted amending
// act. Rewriting an entry that was already committed is an error, reported
// and not silently dropped.
func (s *Scheduler) Register(a *amend.Amendment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Subject != s.subject {
		return fmt.Errorf("amendment %s targets %s, scheduler owns %s", a.Actor, a.Subject, s.subject)
	}
	byDate := make(map[act.Date][]amend.Instruction)
	for _, in := range a.Instructions {
		if in.Op == amend.OpReschedule {
			if err := s.reschedule(in.Target, in.NewDate); err != nil {
				return err
			}
			continue
		}
		date := a.Effective
		if !in.Effective.IsZero() {
			date = in.Effective
		}
		byDate[date] = append(byDate[date], in)
	}
	for date, ins := range byDate {
		if s.hasHighWater && !date.After(s.highWater) {
			// Already part of committed history; nothing pending to add.
			continue
		}
		s.pending = append(s.pending, &entry{
			actor:        a.Actor,
			seq:          a.Seq,
			instructions: ins,
			effective:    date,
		})
	}
	return nil
}

func (s *Scheduler) reschedule(target act.Identifier, newDate act.Date) error {
	var found []*entry
	for _, e := range s.pending {
		if e.actor == target {
			found = append(found, e)
		}
	}
	if len(found) == 0 {
		return fmt.Errorf("override of %s: no pending changes (already committed or unknown): %w",
			target, ErrInvalidReschedule)
	}
	// Moving a pending entry at or below the high-water mark would make it
	// invisible to AdvanceTo without ever being applied.
	if s.hasHighWater && !newDate.After(s.highWater) {
		return fmt.Errorf("override of %s to %s: date is at or before committed history (%s): %w",
			target, newDate, s.highWater, ErrInvalidReschedule)
	}
	for _, e := range found {
		e.effective = newDate
	}
	return nil
}

// ChangePoint is the batch of changes effective at one date, merged across
// all amendments scheduled for that date in declaration-sequence order.
type ChangePoint struct {
	Date    act.Date
	Changes []amend.Change
	// Causes lists the amending acts contributing to this change point, in
	// declaration order, for change-log descriptions.
	Causes []act.Identifier
}

// AdvanceTo returns the ordered change points strictly after the
// high-water mark and at or before date. Entries are not removed: the
// caller applies each batch, commits the result, and then calls Commit
// with the change point's date. Instructions at the same date from
// different amendments are merged in declaration-sequence order; overlap
// between them is detected by the applier when the batch is applied.
func (s *Scheduler) AdvanceTo(date act.Date) []ChangePoint {
	byDate := make(map[act.Date][]*entry)
	for _, e := range s.pending {
		if s.hasHighWater && !e.effective.After(s.highWater) {
			continue
		}
		if e.effective.After(date) {
			continue
		}
		byDate[e.effective] = append(byDate[e.effective], e)
	}
	dates := make([]act.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	points := make([]ChangePoint, 0, len(dates))
	for _, d := range dates {
		entries := byDate[d]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
		cp := ChangePoint{Date: d}
		for _, e := range entries {
			cp.Causes = append(cp.Causes, e.actor)
			for _, in := range e.instructions {
				cp.Changes = append(cp.Changes, amend.Change{
					Instruction: in,
					Effective:   d,
					Cause:       e.actor,
					Seq:         e.seq,
				})
			}
		}
		points = append(points, cp)
	}
	return points
}

// Commit advances the high-water mark to date and drops the entries whose
// changes were applied there. Committing out of order is an error.
func (s *Scheduler) Commit(date act.Date) error {
	if s.hasHighWater && !date.After(s.highWater) {
		return fmt.Errorf("commit %s at or before high-water mark %s", date, s.highWater)
	}
	s.SetCommitted(date)
	return nil
}

// PendingDates returns the distinct dates of still-pending entries in
// ascending order. With nothing committed yet this is the full expected
// schedule of change points; the driver compares it against materialized
// history when deciding whether a resume is safe.
func (s *Scheduler) PendingDates() []act.Date {
	seen := make(map[act.Date]struct{})
	var out []act.Date
	for _, e := range s.pending {
		if _, ok := seen[e.effective]; ok {
			continue
		}
		seen[e.effective] = struct{}{}
		out = append(out, e.effective)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
