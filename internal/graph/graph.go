// Package graph is the write boundary of the import pipeline plus the small
// read surface aggregation needs. Writes are expressed as idempotent
// statements executed atomically per batch; no query language is exposed.
package graph

import (
	"context"
	"errors"
)

// Labels and relationship types written by the pipeline
const (
	LabelTransaction             = "Transaction"
	LabelSummaryAccountGroup     = "SummaryAccountGroup"
	LabelSummaryCounterparty     = "SummaryCounterparty"
	LabelSummaryNettingAgreement = "SummaryNettingAgreement"

	RelTransactions = "TRANSACTIONS"
	RelBelongsTo    = "BELONGS_TO"
)

// ErrClosed is returned by sessions used after Close.
var ErrClosed = errors.New("graph: session closed")

// Node is a labelled, keyed property bag. (Label, Key) is unique.
type Node struct {
	Label   string            `json:"label"`
	Key     string            `json:"key"`
	Scope   string            `json:"scope,omitempty"`
	CobDate string            `json:"cob_date,omitempty"`
	Props   map[string]string `json:"props,omitempty"`
}

// Relationship is a typed edge between two nodes. The full tuple is unique.
type Relationship struct {
	Type      string `json:"type"`
	FromLabel string `json:"from_label"`
	FromKey   string `json:"from_key"`
	ToLabel   string `json:"to_label"`
	ToKey     string `json:"to_key"`
	CobDate   string `json:"cob_date,omitempty"`
}

// MergeMode controls what happens when a merged node already exists
type MergeMode int

const (
	// CreateOnly leaves an existing node untouched.
	CreateOnly MergeMode = iota
	// Replace overwrites the properties of an existing node wholesale.
	Replace
)

// Statement is one idempotent write
type Statement interface {
	statement()
}

// MergeNode creates the node if absent; Mode decides what happens otherwise.
type MergeNode struct {
	Node Node
	Mode MergeMode
}

// MergeRelationship creates the edge if absent.
type MergeRelationship struct {
	Rel Relationship
}

// DetachRelationships removes every edge of Type leaving nodes of FromLabel for CobDate.
type DetachRelationships struct {
	Type      string
	FromLabel string
	CobDate   string
}

// DeleteNodes removes nodes of Label for CobDate whose key is not in KeepKeys,
// together with every edge touching them.
type DeleteNodes struct {
	Label    string
	CobDate  string
	KeepKeys []string
}

func (MergeNode) statement()           {}
func (MergeRelationship) statement()   {}
func (DetachRelationships) statement() {}
func (DeleteNodes) statement()         {}

// WriteSummary counts what a write actually created
type WriteSummary struct {
	NodesCreated         int64 `json:"nodes_created"`
	RelationshipsCreated int64 `json:"relationships_created"`
	RelationshipsDeleted int64 `json:"relationships_deleted"`
	NodesDeleted         int64 `json:"nodes_deleted"`
}

// Add accumulates another summary.
func (s *WriteSummary) Add(o WriteSummary) {
	s.NodesCreated += o.NodesCreated
	s.RelationshipsCreated += o.RelationshipsCreated
	s.RelationshipsDeleted += o.RelationshipsDeleted
	s.NodesDeleted += o.NodesDeleted
}

// NodeFilter selects nodes; empty fields match anything except Label, which is required.
type NodeFilter struct {
	Label   string
	Scope   string
	CobDate string
}

// RelFilter selects relationships; empty fields match anything.
type RelFilter struct {
	Type      string
	FromLabel string
	ToLabel   string
	CobDate   string
}

// Session is a long-lived unit of work owned by a single goroutine.
type Session interface {
	// ExecuteWrite applies all statements atomically.
	ExecuteWrite(ctx context.Context, stmts []Statement) (WriteSummary, error)
	Close() error
}

// Store opens sessions and serves the read side.
type Store interface {
	Session(ctx context.Context) (Session, error)
	ScanNodes(ctx context.Context, f NodeFilter, fn func(Node) error) error
	ScanRelationships(ctx context.Context, f RelFilter, fn func(Relationship) error) error
	CountNodes(ctx context.Context, f NodeFilter) (int64, error)
	CountRelationships(ctx context.Context, f RelFilter) (int64, error)
	Close() error
}

func validate(stmts []Statement) error {
	for _, st := range stmts {
		switch s := st.(type) {
		case MergeNode:
			if s.Node.Label == "" || s.Node.Key == "" {
				return errors.New("graph: node requires label and key")
			}
		case MergeRelationship:
			r := s.Rel
			if r.Type == "" || r.FromLabel == "" || r.FromKey == "" || r.ToLabel == "" || r.ToKey == "" {
				return errors.New("graph: relationship requires type and both endpoints")
			}
		case DetachRelationships:
			if s.Type == "" || s.FromLabel == "" {
				return errors.New("graph: detach requires type and from label")
			}
		case DeleteNodes:
			if s.Label == "" || s.CobDate == "" {
				return errors.New("graph: delete requires label and cob date")
			}
		case nil:
			return errors.New("graph: nil statement")
		}
	}
	return nil
}

func copyProps(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
