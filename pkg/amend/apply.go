package amend

import (
	"errors"
	"fmt"

	"actdb/pkg/act"
)

// ErrOverlapConflict is returned when two instructions scheduled for the
// same change point target overlapping paths. The conflict is surfaced for
// manual resolution, never resolved by guessing.
var ErrOverlapConflict = errors.New("overlapping modification targets")

// Apply transforms tree into the state after every change in the batch,
// applied in declared order. The input tree is never modified; the result
// shares all untouched subtrees with it.
//
// Application is atomic: any error means no partial result is returned.
// A repeal whose target no longer resolves is a no-op; a missing target for
// insert_after or replace is fatal (wraps act.ErrPathNotFound). Overlapping
// target paths within the batch are fatal (wraps ErrOverlapConflict).
func Apply(tree *act.Node, changes []Change) (*act.Node, error) {
	if err := checkOverlap(changes); err != nil {
		return nil, err
	}
	cur := tree
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		var (
			next *act.Node
			err  error
		)
		switch c.Op {
		case OpInsertAfter:
			next, err = applyInsertAfter(cur, c)
		case OpReplace:
			next, err = applyReplace(cur, c)
		case OpRepeal:
			next, err = applyRepeal(cur, c)
		case OpReschedule:
			// Reschedules act on the pending schedule and are consumed by
			// the scheduler before batches reach the applier.
			err = fmt.Errorf("reschedule instruction reached the applier")
		}
		if err != nil {
			return nil, fmt.Errorf("change %d (%s %s): %w", i, c.Op, c.Path, err)
		}
		cur = next
	}
	return cur, nil
}

// checkOverlap rejects batches where one instruction's target lies inside
// another's subtree. Repeals are included: repealing a node while another
// instruction rewrites part of it is exactly the ambiguity this guards.
func checkOverlap(changes []Change) error {
	for i := 0; i < len(changes); i++ {
		if changes[i].Op == OpReschedule {
			continue
		}
		for j := i + 1; j < len(changes); j++ {
			if changes[j].Op == OpReschedule {
				continue
			}
			if changes[i].Path.Overlaps(changes[j].Path) {
				return fmt.Errorf("changes %d and %d both target %q: %w",
					i, j, changes[i].Path, ErrOverlapConflict)
			}
		}
	}
	return nil
}

func applyInsertAfter(tree *act.Node, c Change) (*act.Node, error) {
	root, parent, err := act.CopyPath(tree, c.Path.Parent())
	if err != nil {
		return nil, err
	}
	seg := c.Path[len(c.Path)-1]
	idx := -1
	for i, child := range parent.Children {
		if child.Kind == seg.Kind && child.ID == seg.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%q: %w", c.Path, act.ErrPathNotFound)
	}
	payload := act.CloneDeep(c.Subtree)
	stampInForce(payload, c.Effective, c.Cause)
	children := make([]*act.Node, 0, len(parent.Children)+1)
	children = append(children, parent.Children[:idx+1]...)
	children = append(children, payload)
	children = append(children, parent.Children[idx+1:]...)
	parent.Children = children
	return root, nil
}

func applyReplace(tree *act.Node, c Change) (*act.Node, error) {
	root, node, err := act.CopyPath(tree, c.Path)
	if err != nil {
		return nil, err
	}
	payload := act.CloneDeep(c.Subtree)
	stampInForce(payload, c.Effective, c.Cause)
	// The replaced node keeps its enforcement marker unless the instruction
	// carries a new one; the cause always becomes the amending act.
	marker := node.Enforcement
	if !c.Subtree.Enforcement.IsZero() {
		marker = c.Subtree.Enforcement
	}
	marker.Cause = c.Cause
	*node = *payload
	node.Enforcement = marker
	return root, nil
}

func applyRepeal(tree *act.Node, c Change) (*act.Node, error) {
	if _, err := act.Resolve(tree, c.Path); err != nil {
		if errors.Is(err, act.ErrPathNotFound) {
			// Repealing something already gone is tolerated.
			return tree, nil
		}
		return nil, err
	}
	root, node, err := act.CopyPath(tree, c.Path)
	if err != nil {
		return nil, err
	}
	repealSubtree(node, c.Effective, c.Cause)
	return root, nil
}

// repealSubtree marks node and every descendant repealed since date. Nodes
// already repealed keep their original repeal date.
func repealSubtree(n *act.Node, date act.Date, cause act.Identifier) {
	if n.Enforcement.Status != act.StatusRepealed {
		n.Enforcement = act.Enforcement{Status: act.StatusRepealed, Since: date, Cause: cause}
	}
	for i, c := range n.Children {
		fresh := *c
		fresh.Children = append([]*act.Node(nil), c.Children...)
		repealSubtree(&fresh, date, cause)
		n.Children[i] = &fresh
	}
}

// stampInForce fills unset enforcement markers across a payload subtree.
// Markers the parser set explicitly (e.g. a pending sub-provision) win.
func stampInForce(n *act.Node, date act.Date, cause act.Identifier) {
	if n.Enforcement.IsZero() {
		n.Enforcement = act.Enforcement{Status: act.StatusInForce, Since: date, Cause: cause}
	}
	for _, c := range n.Children {
		stampInForce(c, date, cause)
	}
}
