// End-to-end coverage over real backends: YAML sources on disk, a
// filesystem blob store and a sqlite change-point index, driven through
// ingest, recalculation and the query facade.
package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"actdb/internal/blob"
	"actdb/internal/ingest"
	"actdb/internal/recalc"
	"actdb/internal/service"
	"actdb/internal/snapshot"
	"actdb/pkg/act"
	"actdb/pkg/amend"
)

const subjectActYAML = `
id: 2012/1
title: Example Act
publication_date: 2011-12-20
root:
  children:
    - kind: article
      id: "1"
      body: A
`

const replacingActYAML = `
id: 2021/7
title: First Amending Act
publication_date: 2021-01-15
root:
  children:
    - kind: article
      id: "1"
      body: Article 1 of act 2012/1 is replaced.
`

const replacingAmendmentsYAML = `
- actor: 2021/7
  subject: 2012/1
  effective: 2021-03-01
  instructions:
    - op: replace
      path: article 1
      subtree:
        kind: article
        id: "1"
        body: B
`

const repealingActYAML = `
id: 2021/80
title: Second Amending Act
publication_date: 2021-11-30
root:
  children:
    - kind: article
      id: "1"
      body: Article 1 of act 2012/1 is repealed.
`

const repealingAmendmentsYAML = `
- actor: 2021/80
  subject: 2012/1
  effective: 2022-01-01
  instructions:
    - op: repeal
      path: article 1
`

var subjectID = act.Identifier{Year: 2012, Number: 1}

type fixture struct {
	svc    *service.Service
	store  *snapshot.Store
	driver *recalc.Driver
	inputs []recalc.Input
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func setup(t *testing.T) *fixture {
	t.Helper()
	scratch := t.TempDir()
	sourceDir := filepath.Join(scratch, "acts")
	if err := os.MkdirAll(sourceDir, 0o750); err != nil {
		t.Fatal(err)
	}

	type source struct{ act, amendments, name string }
	for _, s := range []source{
		{subjectActYAML, "", "subject"},
		{replacingActYAML, replacingAmendmentsYAML, "replacing"},
		{repealingActYAML, repealingAmendmentsYAML, "repealing"},
	} {
		actPath := writeFile(t, scratch, s.name+"-act.yaml", s.act)
		amendPath := ""
		if s.amendments != "" {
			amendPath = writeFile(t, scratch, s.name+"-amendments.yaml", s.amendments)
		}
		if _, err := ingest.Add(sourceDir, actPath, amendPath); err != nil {
			t.Fatalf("add %s: %v", s.name, err)
		}
	}

	sources, err := ingest.LoadSources(sourceDir)
	if err != nil {
		t.Fatalf("load sources: %v", err)
	}
	byID := make(map[act.Identifier]int)
	var inputs []recalc.Input
	for _, src := range sources {
		byID[src.Act.ID] = len(inputs)
		inputs = append(inputs, recalc.Input{Act: *src.Act})
	}
	for _, src := range sources {
		for _, a := range src.Amendments {
			i, ok := byID[a.Subject]
			if !ok {
				t.Fatalf("amendment %s targets unknown act %s", a.Actor, a.Subject)
			}
			inputs[i].Amendments = append(inputs[i].Amendments, a)
		}
	}

	blobs, err := blob.NewFilesystem(filepath.Join(scratch, "blobs"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	t.Setenv("ACTDB_INDEX_DRIVER", "sqlite")
	t.Setenv("ACTDB_INDEX_SQLITE_PATH", filepath.Join(scratch, "index.db"))
	index, err := snapshot.OpenIndex(context.Background())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	t.Cleanup(func() { _ = index.Close() })
	store, err := snapshot.New(blobs, index, snapshot.Options{})
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	return &fixture{
		svc:    service.New(store),
		store:  store,
		driver: recalc.NewDriver(store, recalc.Options{Parallelism: 3}),
		inputs: inputs,
	}
}

func (f *fixture) recalculate(t *testing.T) *recalc.Report {
	t.Helper()
	report, err := f.driver.Run(context.Background(), f.inputs, act.MustDate("2025-01-01"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("report: %v", err)
	}
	return report
}

func articleOne(t *testing.T, f *fixture, date string) *act.Node {
	t.Helper()
	state, _, err := f.svc.State(context.Background(), subjectID, act.MustDate(date))
	if err != nil {
		t.Fatalf("state at %s: %v", date, err)
	}
	node, err := act.Resolve(state.Root, act.MustPath("article 1"))
	if err != nil {
		t.Fatalf("resolve at %s: %v", date, err)
	}
	return node
}

func TestReplaceThenRepealScenario(t *testing.T) {
	f := setup(t)
	f.recalculate(t)

	before := articleOne(t, f, "2020-01-01")
	if before.Body != "A" || before.Enforcement.Status == act.StatusRepealed {
		t.Fatalf("original state wrong: %+v", before)
	}

	replaced := articleOne(t, f, "2021-06-01")
	if replaced.Body != "B" {
		t.Fatalf("expected replacement in force, got %q", replaced.Body)
	}
	if replaced.Enforcement.Cause != (act.Identifier{Year: 2021, Number: 7}) {
		t.Fatalf("replacement cause wrong: %+v", replaced.Enforcement)
	}

	// The repealed article stays addressable, marked repealed-since.
	repealed := articleOne(t, f, "2022-06-01")
	if repealed.Body != "B" {
		t.Fatalf("repealed text must remain readable, got %q", repealed.Body)
	}
	if repealed.Enforcement.Status != act.StatusRepealed ||
		repealed.Enforcement.Since != act.MustDate("2022-01-01") ||
		repealed.Enforcement.Cause != (act.Identifier{Year: 2021, Number: 80}) {
		t.Fatalf("repeal marker wrong: %+v", repealed.Enforcement)
	}

	_, _, err := f.svc.State(context.Background(), subjectID, act.MustDate("2011-01-01"))
	if !errors.Is(err, snapshot.ErrNotYetInForce) {
		t.Fatalf("expected ErrNotYetInForce before publication, got %v", err)
	}
}

func TestChangePointsStrictlyIncreasing(t *testing.T) {
	f := setup(t)
	f.recalculate(t)

	points, err := f.svc.ChangePoints(context.Background(), subjectID)
	if err != nil {
		t.Fatalf("change points: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 change points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if !points[i-1].Date.Before(points[i].Date) {
			t.Fatalf("dates not strictly increasing: %s then %s", points[i-1].Date, points[i].Date)
		}
	}
	if points[1].Note != "amended by 2021/7" || points[2].Note != "amended by 2021/80" {
		t.Fatalf("unexpected notes: %+v", points)
	}
}

func TestRecalculationIsIdempotentOnDisk(t *testing.T) {
	f := setup(t)
	f.recalculate(t)
	ctx := context.Background()
	first, err := f.svc.ChangePoints(ctx, subjectID)
	if err != nil {
		t.Fatalf("change points: %v", err)
	}

	report := f.recalculate(t)
	for _, res := range report.Results {
		if res.Written != 0 {
			t.Fatalf("second run wrote %d snapshot(s) for %s", res.Written, res.Act)
		}
	}
	second, _ := f.svc.ChangePoints(ctx, subjectID)
	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Fatalf("change points drifted across runs:\n%+v\n%+v", first, second)
	}
}

func TestDiffComplement(t *testing.T) {
	f := setup(t)
	f.recalculate(t)
	ctx := context.Background()

	forward, err := f.svc.Diff(ctx, subjectID, act.MustDate("2020-01-01"), act.MustDate("2021-06-01"))
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(forward.Entries) != 1 {
		t.Fatalf("expected one entry, got %+v", forward.Entries)
	}
	var saw bool
	for _, span := range forward.Entries[0].TextDiff {
		if span.Left == "A" && span.Right == "B" {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("expected A->B text span, got %+v", forward.Entries[0].TextDiff)
	}
}

func TestConflictingAmendmentsAbortWithoutPartialCommit(t *testing.T) {
	f := setup(t)
	conflicting := &amend.Amendment{
		Actor:     act.Identifier{Year: 2021, Number: 99},
		Subject:   subjectID,
		Effective: act.MustDate("2021-03-01"),
		Seq:       100,
		Instructions: []amend.Instruction{{
			Op:   amend.OpRepeal,
			Path: act.MustPath("article 1"),
		}},
	}
	for i := range f.inputs {
		if f.inputs[i].Act.ID == subjectID {
			f.inputs[i].Amendments = append(f.inputs[i].Amendments, conflicting)
		}
	}

	report, err := f.driver.Run(context.Background(), f.inputs, act.MustDate("2025-01-01"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var subjectErr error
	for _, res := range report.Results {
		if res.Act == subjectID {
			subjectErr = res.Err
		}
	}
	if !errors.Is(subjectErr, amend.ErrOverlapConflict) {
		t.Fatalf("expected overlap conflict, got %v", subjectErr)
	}
	// Only the original text made it in; the conflicting date committed
	// nothing.
	points, _ := f.svc.ChangePoints(context.Background(), subjectID)
	if len(points) != 1 || points[0].Note != "original text" {
		t.Fatalf("partial commit detected: %+v", points)
	}
}
