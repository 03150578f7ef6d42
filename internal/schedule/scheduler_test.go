package schedule

import (
	"errors"
	"testing"

	"actdb/pkg/act"
	"actdb/pkg/amend"
)

func id(year, number int) act.Identifier { return act.Identifier{Year: year, Number: number} }

var subject = id(2012, 1)

func repealOf(path string) amend.Instruction {
	return amend.Instruction{Op: amend.OpRepeal, Path: act.MustPath(path)}
}

func amendment(actor act.Identifier, seq int, effective string, ins ...amend.Instruction) *amend.Amendment {
	return &amend.Amendment{
		Actor:        actor,
		Subject:      subject,
		Effective:    act.MustDate(effective),
		Seq:          seq,
		Instructions: ins,
	}
}

func TestAdvanceToOrdersByDate(t *testing.T) {
	s := New(subject)
	if err := s.Register(amendment(id(2020, 2), 2, "2021-06-01", repealOf("article 2"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(amendment(id(2020, 1), 1, "2021-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	points := s.AdvanceTo(act.MustDate("2022-01-01"))
	if len(points) != 2 {
		t.Fatalf("want 2 change points, got %d", len(points))
	}
	if points[0].Date != act.MustDate("2021-01-01") || points[1].Date != act.MustDate("2021-06-01") {
		t.Fatalf("dates out of order: %v %v", points[0].Date, points[1].Date)
	}
}

func TestAdvanceToExcludesBeyondTarget(t *testing.T) {
	s := New(subject)
	if err := s.Register(amendment(id(2020, 1), 1, "2021-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := s.AdvanceTo(act.MustDate("2020-12-31")); len(got) != 0 {
		t.Fatalf("nothing should be due yet, got %d", len(got))
	}
	// Inclusive upper bound.
	if got := s.AdvanceTo(act.MustDate("2021-01-01")); len(got) != 1 {
		t.Fatalf("change point at target date must be included")
	}
}

func TestSameDateMergesInDeclarationOrder(t *testing.T) {
	s := New(subject)
	if err := s.Register(amendment(id(2020, 9), 9, "2021-01-01", repealOf("article 2"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(amendment(id(2020, 3), 3, "2021-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	points := s.AdvanceTo(act.MustDate("2021-01-01"))
	if len(points) != 1 {
		t.Fatalf("want single merged change point, got %d", len(points))
	}
	cp := points[0]
	if len(cp.Changes) != 2 || cp.Changes[0].Seq != 3 || cp.Changes[1].Seq != 9 {
		t.Fatalf("declaration order broken: %+v", cp.Changes)
	}
	if len(cp.Causes) != 2 || cp.Causes[0] != (id(2020, 3)) {
		t.Fatalf("causes out of order: %v", cp.Causes)
	}
}

func TestCommitAdvancesHighWater(t *testing.T) {
	s := New(subject)
	if err := s.Register(amendment(id(2020, 1), 1, "2021-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(amendment(id(2020, 2), 2, "2021-06-01", repealOf("article 2"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	points := s.AdvanceTo(act.MustDate("2022-01-01"))
	if err := s.Commit(points[0].Date); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if hw, ok := s.HighWater(); !ok || hw != act.MustDate("2021-01-01") {
		t.Fatalf("high water not advanced: %v %v", hw, ok)
	}
	rest := s.AdvanceTo(act.MustDate("2022-01-01"))
	if len(rest) != 1 || rest[0].Date != act.MustDate("2021-06-01") {
		t.Fatalf("committed change point re-emitted: %+v", rest)
	}
	if err := s.Commit(act.MustDate("2020-01-01")); err == nil {
		t.Fatalf("out-of-order commit accepted")
	}
}

func TestTransitiveReschedule(t *testing.T) {
	s := New(subject)
	a := id(2019, 10)
	b := id(2019, 20)
	// A is declared effective 2020-01-01; B, registered later, overrides
	// A's date to 2021-01-01.
	if err := s.Register(amendment(a, 1, "2020-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register A: %v", err)
	}
	override := amendment(b, 2, "2019-06-01",
		amend.Instruction{Op: amend.OpReschedule, Target: a, NewDate: act.MustDate("2021-01-01")})
	if err := s.Register(override); err != nil {
		t.Fatalf("register B: %v", err)
	}
	points := s.AdvanceTo(act.MustDate("2022-01-01"))
	if len(points) != 1 {
		t.Fatalf("want only the rescheduled change point, got %d", len(points))
	}
	if points[0].Date != act.MustDate("2021-01-01") {
		t.Fatalf("A should now land at 2021-01-01, got %v", points[0].Date)
	}
	// No intermediate change point at the original date.
	if got := s.AdvanceTo(act.MustDate("2020-06-01")); len(got) != 0 {
		t.Fatalf("nothing should be effective at the original date: %+v", got)
	}
}

func TestRescheduleCommittedEntryFails(t *testing.T) {
	s := New(subject)
	a := id(2019, 10)
	if err := s.Register(amendment(a, 1, "2020-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Commit(act.MustDate("2020-01-01")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	override := amendment(id(2020, 5), 2, "2020-06-01",
		amend.Instruction{Op: amend.OpReschedule, Target: a, NewDate: act.MustDate("2021-01-01")})
	err := s.Register(override)
	if !errors.Is(err, ErrInvalidReschedule) {
		t.Fatalf("want ErrInvalidReschedule, got %v", err)
	}
}

func TestReschedulePendingIntoCommittedHistoryFails(t *testing.T) {
	// An override may not move a pending entry to a date at or before the
	// high-water mark: AdvanceTo would never emit it again and the change
	// would vanish without being applied.
	s := New(subject)
	s.SetCommitted(act.MustDate("2013-01-01"))
	a := id(2014, 10)
	if err := s.Register(amendment(a, 1, "2015-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	override := amendment(id(2014, 20), 2, "2014-06-01",
		amend.Instruction{Op: amend.OpReschedule, Target: a, NewDate: act.MustDate("2012-06-01")})
	if err := s.Register(override); !errors.Is(err, ErrInvalidReschedule) {
		t.Fatalf("want ErrInvalidReschedule, got %v", err)
	}
	// The pending entry keeps its declared date.
	if dates := s.PendingDates(); len(dates) != 1 || dates[0] != act.MustDate("2015-01-01") {
		t.Fatalf("pending entry mutated by rejected override: %v", dates)
	}
}

func TestRescheduleUnknownTargetFails(t *testing.T) {
	s := New(subject)
	override := amendment(id(2020, 5), 1, "2020-06-01",
		amend.Instruction{Op: amend.OpReschedule, Target: id(1999, 9), NewDate: act.MustDate("2021-01-01")})
	if err := s.Register(override); !errors.Is(err, ErrInvalidReschedule) {
		t.Fatalf("want ErrInvalidReschedule, got %v", err)
	}
}

func TestRegisterWrongSubject(t *testing.T) {
	s := New(subject)
	a := amendment(id(2020, 1), 1, "2021-01-01", repealOf("article 1"))
	a.Subject = id(1990, 3)
	if err := s.Register(a); err == nil {
		t.Fatalf("wrong subject accepted")
	}
}

func TestPerInstructionEffectiveDateSplits(t *testing.T) {
	s := New(subject)
	a := amendment(id(2020, 1), 1, "2021-01-01",
		repealOf("article 1"),
		amend.Instruction{Op: amend.OpRepeal, Path: act.MustPath("article 2"), Effective: act.MustDate("2021-06-01")},
	)
	if err := s.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	points := s.AdvanceTo(act.MustDate("2022-01-01"))
	if len(points) != 2 {
		t.Fatalf("instruction-level date should split into 2 change points, got %d", len(points))
	}
	if points[0].Date != act.MustDate("2021-01-01") || points[1].Date != act.MustDate("2021-06-01") {
		t.Fatalf("split dates wrong: %v %v", points[0].Date, points[1].Date)
	}
}

func TestSetCommittedDropsHistory(t *testing.T) {
	s := New(subject)
	if err := s.Register(amendment(id(2020, 1), 1, "2020-01-01", repealOf("article 1"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(amendment(id(2020, 2), 2, "2021-01-01", repealOf("article 2"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.SetCommitted(act.MustDate("2020-06-01"))
	dates := s.PendingDates()
	if len(dates) != 1 || dates[0] != act.MustDate("2021-01-01") {
		t.Fatalf("history not dropped: %v", dates)
	}
}
