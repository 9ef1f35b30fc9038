package graph

import (
	"context"
	"sort"
	"sync"
)

type nodeID struct{ label, key string }

// MemoryStore is an in-process Store. Writes are serialized under one lock.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[nodeID]Node
	rels  map[Relationship]struct{}

	// FailWrite, when set, is consulted before each batch is applied.
	FailWrite func(stmts []Statement) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[nodeID]Node),
		rels:  make(map[Relationship]struct{}),
	}
}

type memorySession struct {
	store  *MemoryStore
	closed bool
}

func (m *MemoryStore) Session(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memorySession{store: m}, nil
}

func (s *memorySession) Close() error {
	s.closed = true
	return nil
}

func (s *memorySession) ExecuteWrite(ctx context.Context, stmts []Statement) (WriteSummary, error) {
	if s.closed {
		return WriteSummary{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return WriteSummary{}, err
	}
	if err := validate(stmts); err != nil {
		return WriteSummary{}, err
	}
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		if err := m.FailWrite(stmts); err != nil {
			return WriteSummary{}, err
		}
	}

	var sum WriteSummary
	for _, st := range stmts {
		switch w := st.(type) {
		case MergeNode:
			id := nodeID{w.Node.Label, w.Node.Key}
			n := w.Node
			n.Props = copyProps(n.Props)
			if _, ok := m.nodes[id]; !ok {
				m.nodes[id] = n
				sum.NodesCreated++
			} else if w.Mode == Replace {
				m.nodes[id] = n
			}
		case MergeRelationship:
			if _, ok := m.rels[w.Rel]; !ok {
				m.rels[w.Rel] = struct{}{}
				sum.RelationshipsCreated++
			}
		case DetachRelationships:
			for r := range m.rels {
				if r.Type == w.Type && r.FromLabel == w.FromLabel && (w.CobDate == "" || r.CobDate == w.CobDate) {
					delete(m.rels, r)
					sum.RelationshipsDeleted++
				}
			}
		case DeleteNodes:
			keep := keySet(w.KeepKeys)
			for id, n := range m.nodes {
				if id.label != w.Label || n.CobDate != w.CobDate || keep[id.key] {
					continue
				}
				delete(m.nodes, id)
				sum.NodesDeleted++
				for r := range m.rels {
					if (r.FromLabel == id.label && r.FromKey == id.key) || (r.ToLabel == id.label && r.ToKey == id.key) {
						delete(m.rels, r)
						sum.RelationshipsDeleted++
					}
				}
			}
		}
	}
	return sum, nil
}

func (f NodeFilter) match(n Node) bool {
	return n.Label == f.Label &&
		(f.Scope == "" || n.Scope == f.Scope) &&
		(f.CobDate == "" || n.CobDate == f.CobDate)
}

func (f RelFilter) match(r Relationship) bool {
	return (f.Type == "" || r.Type == f.Type) &&
		(f.FromLabel == "" || r.FromLabel == f.FromLabel) &&
		(f.ToLabel == "" || r.ToLabel == f.ToLabel) &&
		(f.CobDate == "" || r.CobDate == f.CobDate)
}

// ScanNodes visits matching nodes ordered by key.
func (m *MemoryStore) ScanNodes(ctx context.Context, f NodeFilter, fn func(Node) error) error {
	m.mu.RLock()
	var out []Node
	for _, n := range m.nodes {
		if f.match(n) {
			n.Props = copyProps(n.Props)
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	for _, n := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) ScanRelationships(ctx context.Context, f RelFilter, fn func(Relationship) error) error {
	m.mu.RLock()
	var out []Relationship
	for r := range m.rels {
		if f.match(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromKey != out[j].FromKey {
			return out[i].FromKey < out[j].FromKey
		}
		return out[i].ToKey < out[j].ToKey
	})
	for _, r := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) CountNodes(ctx context.Context, f NodeFilter) (int64, error) {
	var n int64
	err := m.ScanNodes(ctx, f, func(Node) error { n++; return nil })
	return n, err
}

func (m *MemoryStore) CountRelationships(ctx context.Context, f RelFilter) (int64, error) {
	var n int64
	err := m.ScanRelationships(ctx, f, func(Relationship) error { n++; return nil })
	return n, err
}

func (m *MemoryStore) Close() error { return nil }
