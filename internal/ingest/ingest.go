// Package ingest loads acts and amendment lists from YAML files produced
// by the upstream act parser. Files decode into intermediate documents
// whose scalar fields are parsed and validated explicitly, so a malformed
// date or path is reported with its location instead of surfacing later
// as a half-built tree.
package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"actdb/pkg/act"
	"actdb/pkg/amend"
)

type nodeDoc struct {
	Kind     string     `yaml:"kind"`
	ID       string     `yaml:"id"`
	Title    string     `yaml:"title"`
	Body     string     `yaml:"body"`
	Children []*nodeDoc `yaml:"children"`
}

type actDoc struct {
	ID              string   `yaml:"id"`
	Title           string   `yaml:"title"`
	PublicationDate string   `yaml:"publication_date"`
	Root            *nodeDoc `yaml:"root"`
}

type instructionDoc struct {
	Op        string   `yaml:"op"`
	Path      string   `yaml:"path"`
	Subtree   *nodeDoc `yaml:"subtree"`
	Effective string   `yaml:"effective"`
	Target    string   `yaml:"target"`
	NewDate   string   `yaml:"new_date"`
}

type amendmentDoc struct {
	Actor        string           `yaml:"actor"`
	Subject      string           `yaml:"subject"`
	Effective    string           `yaml:"effective"`
	Seq          int              `yaml:"seq"`
	Instructions []instructionDoc `yaml:"instructions"`
}

// LoadAct reads one act document:
//
//	id: 2012/1
//	title: Example Act
//	publication_date: 2011-12-20
//	root:
//	  children:
//	    - kind: article
//	      id: "1"
//	      ...
func LoadAct(path string) (*act.Act, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read act file: %w", err)
	}
	var doc actDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse act file %s: %w", path, err)
	}
	a, err := buildAct(&doc)
	if err != nil {
		return nil, fmt.Errorf("act file %s: %w", path, err)
	}
	return a, nil
}

// LoadAmendments reads a YAML list of amendments. Amendments without an
// explicit seq get their 1-based position in the file, so declaration
// order in the file is the tie-break order at coinciding dates.
func LoadAmendments(path string) ([]*amend.Amendment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read amendments file: %w", err)
	}
	var docs []*amendmentDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse amendments file %s: %w", path, err)
	}
	list := make([]*amend.Amendment, 0, len(docs))
	for i, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("amendments file %s: entry %d is empty", path, i)
		}
		a, err := buildAmendment(doc, i)
		if err != nil {
			return nil, fmt.Errorf("amendments file %s: %w", path, err)
		}
		list = append(list, a)
	}
	return list, nil
}

func buildAct(doc *actDoc) (*act.Act, error) {
	id, err := act.ParseIdentifier(doc.ID)
	if err != nil {
		return nil, err
	}
	if doc.Title == "" {
		return nil, fmt.Errorf("act %s without title", id)
	}
	pub, err := act.ParseDate(doc.PublicationDate)
	if err != nil {
		return nil, fmt.Errorf("act %s publication date: %w", id, err)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("act %s without text", id)
	}
	if doc.Root.Kind != "" || doc.Root.ID != "" {
		return nil, fmt.Errorf("act %s root must be a bare container", id)
	}
	root := &act.Node{Title: doc.Root.Title}
	for i, child := range doc.Root.Children {
		node, err := buildNode(child, fmt.Sprintf("root child %d", i))
		if err != nil {
			return nil, fmt.Errorf("act %s: %w", id, err)
		}
		root.Children = append(root.Children, node)
	}
	return &act.Act{ID: id, Title: doc.Title, PublicationDate: pub, Root: root}, nil
}

func buildNode(doc *nodeDoc, where string) (*act.Node, error) {
	if doc == nil {
		return nil, fmt.Errorf("%s: empty node", where)
	}
	kind := act.Kind(doc.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("%s: unknown node kind %q", where, doc.Kind)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%s: %s node without id", where, kind)
	}
	if doc.Body != "" && len(doc.Children) > 0 {
		return nil, fmt.Errorf("%s: %s %s carries both body text and children", where, kind, doc.ID)
	}
	node := &act.Node{Kind: kind, ID: doc.ID, Title: doc.Title, Body: doc.Body}
	for i, child := range doc.Children {
		label := fmt.Sprintf("%s child %d", where, i)
		if child != nil {
			label = where + "/" + child.Kind + " " + child.ID
		}
		built, err := buildNode(child, label)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, built)
	}
	return node, nil
}

func buildAmendment(doc *amendmentDoc, position int) (*amend.Amendment, error) {
	actor, err := act.ParseIdentifier(doc.Actor)
	if err != nil {
		return nil, fmt.Errorf("entry %d actor: %w", position, err)
	}
	subject, err := act.ParseIdentifier(doc.Subject)
	if err != nil {
		return nil, fmt.Errorf("amendment %s subject: %w", actor, err)
	}
	effective, err := act.ParseDate(doc.Effective)
	if err != nil {
		return nil, fmt.Errorf("amendment %s effective date: %w", actor, err)
	}
	seq := doc.Seq
	if seq == 0 {
		seq = position + 1
	}
	a := &amend.Amendment{Actor: actor, Subject: subject, Effective: effective, Seq: seq}
	for i, in := range doc.Instructions {
		built, err := buildInstruction(&in)
		if err != nil {
			return nil, fmt.Errorf("amendment %s instruction %d: %w", actor, i, err)
		}
		a.Instructions = append(a.Instructions, built)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func buildInstruction(doc *instructionDoc) (amend.Instruction, error) {
	in := amend.Instruction{Op: amend.Op(doc.Op)}
	var err error
	if doc.Path != "" {
		if in.Path, err = act.ParsePath(doc.Path); err != nil {
			return amend.Instruction{}, err
		}
	}
	if doc.Subtree != nil {
		if in.Subtree, err = buildNode(doc.Subtree, "subtree"); err != nil {
			return amend.Instruction{}, err
		}
	}
	if doc.Effective != "" {
		if in.Effective, err = act.ParseDate(doc.Effective); err != nil {
			return amend.Instruction{}, fmt.Errorf("effective date: %w", err)
		}
	}
	if doc.Target != "" {
		if in.Target, err = act.ParseIdentifier(doc.Target); err != nil {
			return amend.Instruction{}, fmt.Errorf("target: %w", err)
		}
	}
	if doc.NewDate != "" {
		if in.NewDate, err = act.ParseDate(doc.NewDate); err != nil {
			return amend.Instruction{}, fmt.Errorf("new date: %w", err)
		}
	}
	return in, nil
}
