// Package amend defines modification instructions, the amendments that
// carry them, and the applier that transforms one act state into the next.
// Amendments are read-only inputs produced by the external act parser;
// applying one never mutates the tree it is applied to.
package amend

import (
	"fmt"

	"actdb/pkg/act"
)

// Op enumerates the modification instruction kinds.
type Op string

const (
	// OpInsertAfter places a new subtree as the next sibling of the node at
	// Path.
	OpInsertAfter Op = "insert_after"
	// OpReplace substitutes the subtree at Path.
	OpReplace Op = "replace"
	// OpRepeal marks the node at Path and its subtree repealed. The nodes
	// stay in the tree and remain addressable.
	OpRepeal Op = "repeal"
	// OpReschedule overrides the effective date of another, not yet
	// effective amendment. It targets the schedule, not the document tree.
	OpReschedule Op = "reschedule"
)

// Instruction is a single modification step within an amendment.
type Instruction struct {
	Op   Op       `json:"op" yaml:"op"`
	Path act.Path `json:"path,omitempty" yaml:"path,omitempty"`
	// Subtree is the payload for insert_after and replace.
	Subtree *act.Node `json:"subtree,omitempty" yaml:"subtree,omitempty"`
	// Effective optionally overrides the amendment's declared date for this
	// one instruction.
	Effective act.Date `json:"effective,omitempty" yaml:"effective,omitempty"`
	// Target and NewDate describe a reschedule: the amending act whose
	// pending changes move to NewDate.
	Target  act.Identifier `json:"target,omitempty" yaml:"target,omitempty"`
	NewDate act.Date       `json:"new_date,omitempty" yaml:"new_date,omitempty"`
}

// Validate checks internal consistency of a single instruction.
func (in Instruction) Validate() error {
	switch in.Op {
	case OpInsertAfter, OpReplace:
		if len(in.Path) == 0 {
			return fmt.Errorf("%s instruction without target path", in.Op)
		}
		if in.Subtree == nil {
			return fmt.Errorf("%s instruction without subtree payload", in.Op)
		}
	case OpRepeal:
		if len(in.Path) == 0 {
			return fmt.Errorf("repeal instruction without target path")
		}
	case OpReschedule:
		if in.Target.IsZero() {
			return fmt.Errorf("reschedule instruction without target amendment")
		}
		if in.NewDate.IsZero() {
			return fmt.Errorf("reschedule instruction without new date")
		}
	default:
		return fmt.Errorf("unknown instruction op %q", in.Op)
	}
	return nil
}

// Amendment is an ordered, immutable set of instructions declared by one
// act (Actor) against another (Subject), effective as a whole on the
// declared date unless an instruction carries its own.
type Amendment struct {
	// Actor is the amending act, recorded as the cause on every node the
	// amendment touches.
	Actor act.Identifier `json:"actor" yaml:"actor"`
	// Subject is the act being amended.
	Subject act.Identifier `json:"subject" yaml:"subject"`
	// Effective is the declared enforcement date of the amendment.
	Effective act.Date `json:"effective" yaml:"effective"`
	// Seq is the stable declaration sequence number used to break ties when
	// dates coincide.
	Seq          int           `json:"seq" yaml:"seq"`
	Instructions []Instruction `json:"instructions" yaml:"instructions"`
}

// Validate checks internal consistency of the amendment and all of its
// instructions.
func (a *Amendment) Validate() error {
	if a.Actor.IsZero() {
		return fmt.Errorf("amendment without actor")
	}
	if a.Subject.IsZero() {
		return fmt.Errorf("amendment without subject")
	}
	if a.Effective.IsZero() {
		return fmt.Errorf("amendment %s -> %s without effective date", a.Actor, a.Subject)
	}
	if len(a.Instructions) == 0 {
		return fmt.Errorf("amendment %s -> %s without instructions", a.Actor, a.Subject)
	}
	for i, in := range a.Instructions {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("amendment %s -> %s instruction %d: %w", a.Actor, a.Subject, i, err)
		}
	}
	return nil
}

// Change is one instruction scheduled for application at a concrete date.
// The scheduler expands amendments into Changes when a change point is
// reached.
type Change struct {
	Instruction
	// Date the instruction takes effect, after any rescheduling.
	Effective act.Date
	// Cause is the amending act, carried onto touched nodes.
	Cause act.Identifier
	// Seq orders changes from different amendments at the same date.
	Seq int
}
