// Package diffengine computes structural diffs between two states of the
// same act. Children are aligned by (kind, id); body text changes are
// refined to word-level spans.
package diffengine

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"actdb/pkg/act"
)

// Class categorizes one node of the diff.
type Class string

const (
	Unchanged Class = "unchanged"
	Added     Class = "added"
	Removed   Class = "removed"
	Modified  Class = "modified"
)

// TextSpan is one word-level run of a body diff.
type TextSpan struct {
	Class Class  `json:"class"` // unchanged, added, removed or modified
	Left  string `json:"left,omitempty"`
	Right string `json:"right,omitempty"`
}

// Entry describes one node that differs between the two states.
type Entry struct {
	Path  act.Path `json:"path"`
	Class Class    `json:"class"`
	// Left and Right reference the node in the older and newer state.
	// Exactly one is nil for Added and Removed entries.
	Left  *act.Node `json:"-"`
	Right *act.Node `json:"-"`
	// TextDiff is set on Modified entries whose body text changed.
	TextDiff []TextSpan `json:"text_diff,omitempty"`
}

// Options tunes Diff output.
type Options struct {
	// IncludeUnchanged emits entries for nodes present and identical in
	// both states. Off by default: most acts change in a handful of
	// places and the callers page through changed entries only.
	IncludeUnchanged bool
}

// Diff compares two act trees and returns entries in document order of
// the newer state, with removals interleaved where the node used to sit.
// Diffing a tree against itself yields no entries (without
// IncludeUnchanged).
func Diff(left, right *act.Node, opts Options) []Entry {
	var out []Entry
	diffNodes(nil, left, right, opts, &out)
	return out
}

func diffNodes(path act.Path, left, right *act.Node, opts Options, out *[]Entry) {
	modified := left.Title != right.Title ||
		left.Body != right.Body ||
		left.Enforcement != right.Enforcement
	if modified {
		e := Entry{Path: clonePath(path), Class: Modified, Left: left, Right: right}
		if left.Body != right.Body {
			e.TextDiff = textDiff(left.Body, right.Body)
		}
		*out = append(*out, e)
	} else if opts.IncludeUnchanged && len(path) > 0 {
		*out = append(*out, Entry{Path: clonePath(path), Class: Unchanged, Left: left, Right: right})
	}
	diffChildren(path, left, right, opts, out)
}

// diffChildren aligns the two child lists by (kind, id) using the same
// sequence matcher that drives the word-level diff, so reordered or
// renumbered siblings show up as remove plus add rather than a cascade
// of spurious modifications.
func diffChildren(path act.Path, left, right *act.Node, opts Options, out *[]Entry) {
	matcher := difflib.NewMatcher(childKeys(left), childKeys(right))
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				l := left.Children[op.I1+k]
				r := right.Children[op.J1+k]
				diffNodes(append(path, act.Segment{Kind: r.Kind, ID: r.ID}), l, r, opts, out)
			}
		case 'd':
			emitSide(path, left.Children[op.I1:op.I2], Removed, out)
		case 'i':
			emitSide(path, right.Children[op.J1:op.J2], Added, out)
		case 'r':
			emitSide(path, left.Children[op.I1:op.I2], Removed, out)
			emitSide(path, right.Children[op.J1:op.J2], Added, out)
		}
	}
}

func emitSide(path act.Path, nodes []*act.Node, class Class, out *[]Entry) {
	for _, n := range nodes {
		e := Entry{Path: append(clonePath(path), act.Segment{Kind: n.Kind, ID: n.ID}), Class: class}
		if class == Removed {
			e.Left = n
		} else {
			e.Right = n
		}
		*out = append(*out, e)
	}
}

func childKeys(n *act.Node) []string {
	keys := make([]string, len(n.Children))
	for i, c := range n.Children {
		keys[i] = string(c.Kind) + " " + c.ID
	}
	return keys
}

func clonePath(p act.Path) act.Path {
	out := make(act.Path, len(p))
	copy(out, p)
	return out
}

// textDiff aligns the two bodies word by word.
func textDiff(left, right string) []TextSpan {
	lw := strings.Fields(left)
	rw := strings.Fields(right)
	matcher := difflib.NewMatcher(lw, rw)
	var spans []TextSpan
	for _, op := range matcher.GetOpCodes() {
		l := strings.Join(lw[op.I1:op.I2], " ")
		r := strings.Join(rw[op.J1:op.J2], " ")
		switch op.Tag {
		case 'e':
			spans = append(spans, TextSpan{Class: Unchanged, Left: l, Right: r})
		case 'd':
			spans = append(spans, TextSpan{Class: Removed, Left: l})
		case 'i':
			spans = append(spans, TextSpan{Class: Added, Right: r})
		case 'r':
			spans = append(spans, TextSpan{Class: Modified, Left: l, Right: r})
		}
	}
	return spans
}
