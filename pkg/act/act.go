// Package act defines the structural document model for legal acts: the
// node tree, reference paths addressing nodes within a tree, and the
// copy-on-write operations used to derive new act states without mutating
// old ones. The package has no dependencies outside the standard library so
// that every other layer can consume the model freely.
package act

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifier is the stable key of an act: promulgation year plus sequence
// number within that year.
type Identifier struct {
	Year   int `json:"year" yaml:"year"`
	Number int `json:"number" yaml:"number"`
}

// ParseIdentifier parses an identifier of the form "2012/100".
func ParseIdentifier(s string) (Identifier, error) {
	year, number, ok := strings.Cut(s, "/")
	if !ok {
		return Identifier{}, fmt.Errorf("malformed act identifier %q (want year/number)", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Identifier{}, fmt.Errorf("malformed act identifier %q: %w", s, err)
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return Identifier{}, fmt.Errorf("malformed act identifier %q: %w", s, err)
	}
	return Identifier{Year: y, Number: n}, nil
}

func (id Identifier) String() string { return fmt.Sprintf("%d/%d", id.Year, id.Number) }

// IsZero reports whether id is the zero identifier.
func (id Identifier) IsZero() bool { return id == Identifier{} }

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = Identifier{}
		return nil
	}
	parsed, err := ParseIdentifier(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Kind identifies the structural level of a node.
type Kind string

// Structural node kinds, outermost first. Order in this list is the nesting
// order of the document hierarchy.
const (
	KindBook      Kind = "book"
	KindPart      Kind = "part"
	KindChapter   Kind = "chapter"
	KindTitle     Kind = "title"
	KindSubtitle  Kind = "subtitle"
	KindArticle   Kind = "article"
	KindParagraph Kind = "paragraph"
	KindPoint     Kind = "point"
	KindSubpoint  Kind = "subpoint"
)

// Valid reports whether k is one of the known node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBook, KindPart, KindChapter, KindTitle, KindSubtitle,
		KindArticle, KindParagraph, KindPoint, KindSubpoint:
		return true
	}
	return false
}

// Status is the enforcement state of a node.
type Status string

const (
	// StatusInForce marks a node in force since Enforcement.Since.
	StatusInForce Status = "in_force"
	// StatusPending marks a node not yet in force, scheduled for
	// Enforcement.Since.
	StatusPending Status = "pending"
	// StatusRepealed marks a node repealed since Enforcement.Since. Repealed
	// nodes stay in the tree and remain addressable.
	StatusRepealed Status = "repealed"
)

// Enforcement records when and through which act a node's current state
// became effective.
type Enforcement struct {
	Status Status `json:"status" yaml:"status"`
	Since  Date   `json:"since,omitempty" yaml:"since,omitempty"`
	// Cause is the identifier of the act whose amendment produced the
	// current state. Zero for original text.
	Cause Identifier `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// IsZero reports whether the marker is unset.
func (e Enforcement) IsZero() bool { return e == Enforcement{} }

// Node is one element of an act's structural tree. Nodes are treated as
// immutable once published: derived states are produced through the
// copy-on-write helpers in this package, never by editing in place.
type Node struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	// Body holds text content; only leaf nodes carry it.
	Body        string      `json:"body,omitempty" yaml:"body,omitempty"`
	Enforcement Enforcement `json:"enforcement,omitempty" yaml:"enforcement,omitempty"`
	// Children in document order. Order is semantically meaningful.
	Children []*Node `json:"children,omitempty" yaml:"children,omitempty"`
}

// Act is a legal text: identifier, title and the root of its structural
// tree. The root node itself has no kind and serves only as the container
// for top-level children.
type Act struct {
	ID              Identifier `json:"id" yaml:"id"`
	Title           string     `json:"title" yaml:"title"`
	PublicationDate Date       `json:"publication_date" yaml:"publication_date"`
	Root            *Node      `json:"root" yaml:"root"`
}
