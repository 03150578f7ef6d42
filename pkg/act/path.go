package act

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPathNotFound is returned when a reference path does not resolve to a
// node in the tree it is applied to.
var ErrPathNotFound = errors.New("path not found")

// Segment is one step of a reference path: a node kind plus its locally
// unique identifier segment.
type Segment struct {
	Kind Kind
	ID   string
}

func (s Segment) String() string { return string(s.Kind) + " " + s.ID }

// Path is a structured address resolving to at most one node within an
// act's tree, e.g. "article 3/paragraph 2/point a".
type Path []Segment

// ParsePath parses the textual form produced by String: slash-separated
// "kind id" segments.
func ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty reference path")
	}
	parts := strings.Split(s, "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		kind, id, ok := strings.Cut(strings.TrimSpace(part), " ")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed path segment %q in %q", part, s)
		}
		k := Kind(kind)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown node kind %q in path %q", kind, s)
		}
		p = append(p, Segment{Kind: k, ID: id})
	}
	return p, nil
}

// MustPath is ParsePath that panics on malformed input. Intended for tests
// and fixtures.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// Equal reports whether two paths address the same node.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether other is p itself or lies inside the subtree
// addressed by p.
func (p Path) Contains(other Path) bool {
	if len(other) < len(p) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether the subtrees addressed by the two paths share
// any node, i.e. one path is a prefix of the other.
func (p Path) Overlaps(other Path) bool {
	return p.Contains(other) || other.Contains(p)
}

// Parent returns the path without its last segment. The parent of a
// single-segment path is the empty path addressing the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Child returns p extended by one segment.
func (p Path) Child(s Segment) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = s
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := ParsePath(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Resolve walks the tree from root and returns the node addressed by p.
// The empty path resolves to root itself. A missing segment, intermediate
// or final, yields ErrPathNotFound wrapped with the failing prefix.
func Resolve(root *Node, p Path) (*Node, error) {
	cur := root
	for i, seg := range p {
		next := childByLocator(cur, seg)
		if next == nil {
			return nil, fmt.Errorf("%q: %w", Path(p[:i+1]).String(), ErrPathNotFound)
		}
		cur = next
	}
	return cur, nil
}

func childByLocator(n *Node, seg Segment) *Node {
	for _, c := range n.Children {
		if c.Kind == seg.Kind && c.ID == seg.ID {
			return c
		}
	}
	return nil
}
