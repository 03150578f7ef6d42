package act

import (
	"fmt"
	"io"
	"strings"
)

// Equal reports deep structural equality of two trees, including body text
// and enforcement markers. Child order matters.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.ID != b.ID || a.Title != b.Title ||
		a.Body != b.Body || a.Enforcement != b.Enforcement ||
		len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// CloneDeep returns a fully independent copy of the tree. Amendment
// payloads are deep-cloned on application so that callers retain ownership
// of what they passed in.
func CloneDeep(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = CloneDeep(c)
		}
	}
	return &out
}

// CopyPath returns a new root whose nodes along p are fresh copies while
// every subtree off the path is shared with the original. The returned
// node is the fresh copy at p, safe to modify without affecting the input
// tree. This is the core copy-on-write primitive behind snapshot
// derivation: producing a new act state touches O(depth) nodes, not O(n).
func CopyPath(root *Node, p Path) (newRoot, at *Node, err error) {
	if root == nil {
		return nil, nil, fmt.Errorf("%q: %w", p.String(), ErrPathNotFound)
	}
	fresh := *root
	fresh.Children = append([]*Node(nil), root.Children...)
	cur := &fresh
	for i, seg := range p {
		idx := -1
		for j, c := range cur.Children {
			if c.Kind == seg.Kind && c.ID == seg.ID {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("%q: %w", Path(p[:i+1]).String(), ErrPathNotFound)
		}
		child := *cur.Children[idx]
		child.Children = append([]*Node(nil), cur.Children[idx].Children...)
		cur.Children[idx] = &child
		cur = &child
	}
	return &fresh, cur, nil
}

// Walk visits every node of the tree in document order, calling fn with the
// node's reference path. Returning false from fn stops the walk.
func Walk(root *Node, fn func(p Path, n *Node) bool) {
	walk(root, nil, fn)
}

func walk(n *Node, p Path, fn func(Path, *Node) bool) bool {
	for _, c := range n.Children {
		cp := p.Child(Segment{Kind: c.Kind, ID: c.ID})
		if !fn(cp, c) {
			return false
		}
		if !walk(c, cp, fn) {
			return false
		}
	}
	return true
}

// DisplayNumber derives the rendered ordinal of the i-th child of a given
// kind. Display numbering is a pure function of sibling position so that
// letters and numbers stay locally contiguous after insertions; it is never
// stored on the node.
func DisplayNumber(kind Kind, position int) string {
	switch kind {
	case KindPoint, KindSubpoint:
		return letterOrdinal(position)
	default:
		return fmt.Sprintf("%d", position+1)
	}
}

// WriteText renders the tree under root as indented text, labelling each
// node with its display ordinal. Repealed nodes are rendered with a marker
// in place of their body.
func WriteText(w io.Writer, root *Node) error {
	if root == nil {
		return nil
	}
	return writeText(w, root, 0)
}

func writeText(w io.Writer, n *Node, depth int) error {
	positions := make(map[Kind]int)
	for _, c := range n.Children {
		pos := positions[c.Kind]
		positions[c.Kind] = pos + 1
		label := fmt.Sprintf("%s %s.", c.Kind, DisplayNumber(c.Kind, pos))
		line := label
		if c.Title != "" {
			line += " " + c.Title
		}
		if c.Enforcement.Status == StatusRepealed {
			line += " [repealed"
			if !c.Enforcement.Since.IsZero() {
				line += " since " + c.Enforcement.Since.String()
			}
			line += "]"
			if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), line); err != nil {
				return err
			}
			continue
		}
		if c.Body != "" {
			line += " " + c.Body
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), line); err != nil {
			return err
		}
		if err := writeText(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// letterOrdinal maps 0->a, 25->z, 26->aa, 27->ab and so on.
func letterOrdinal(i int) string {
	out := ""
	for {
		out = string(rune('a'+i%26)) + out
		i = i/26 - 1
		if i < 0 {
			return out
		}
	}
}
