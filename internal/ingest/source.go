package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"actdb/pkg/act"
	"actdb/pkg/amend"
)

// Source directory layout: one subdirectory per act, named after the
// identifier with the slash flattened ("2012-1"), holding act.yaml and an
// optional amendments.yaml with the amendments that act declares.
const (
	actFileName        = "act.yaml"
	amendmentsFileName = "amendments.yaml"
)

// Source is one loaded act together with the amendments it declares
// (which may target other acts).
type Source struct {
	Dir        string
	Act        *act.Act
	Amendments []*amend.Amendment
}

// DirName returns the source subdirectory name for an act.
func DirName(id act.Identifier) string {
	return fmt.Sprintf("%d-%d", id.Year, id.Number)
}

// LoadSources loads every act subdirectory under root, in lexical
// directory order. Amendment sequence numbers are reassigned as the
// global declaration order across the whole corpus, so recalculation
// tie-breaks are stable regardless of which files the amendments came
// from.
func LoadSources(root string) ([]Source, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var sources []Source
	seq := 0
	for _, name := range names {
		dir := filepath.Join(root, name)
		actPath := filepath.Join(dir, actFileName)
		if _, err := os.Stat(actPath); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		a, err := LoadAct(actPath)
		if err != nil {
			return nil, err
		}
		src := Source{Dir: dir, Act: a}
		amendPath := filepath.Join(dir, amendmentsFileName)
		if _, err := os.Stat(amendPath); err == nil {
			src.Amendments, err = LoadAmendments(amendPath)
			if err != nil {
				return nil, err
			}
		}
		for _, am := range src.Amendments {
			seq++
			am.Seq = seq
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Add validates the given act and amendments files and installs them
// under root in the source layout. An existing act directory is replaced
// as a whole.
func Add(root, actPath, amendmentsPath string) (act.Identifier, error) {
	a, err := LoadAct(actPath)
	if err != nil {
		return act.Identifier{}, err
	}
	if amendmentsPath != "" {
		if _, err := LoadAmendments(amendmentsPath); err != nil {
			return act.Identifier{}, err
		}
	}
	dir := filepath.Join(root, DirName(a.ID))
	if err := os.RemoveAll(dir); err != nil {
		return act.Identifier{}, fmt.Errorf("replace %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return act.Identifier{}, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := copyFile(actPath, filepath.Join(dir, actFileName)); err != nil {
		return act.Identifier{}, err
	}
	if amendmentsPath != "" {
		if err := copyFile(amendmentsPath, filepath.Join(dir, amendmentsFileName)); err != nil {
			return act.Identifier{}, err
		}
	}
	return a.ID, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
