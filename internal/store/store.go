// Package store persists workflow states so status survives the goroutine
// that produced it.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go-graph-import/internal/model"
)

// ErrNotFound is returned by Get for an unknown workflow id
var ErrNotFound = errors.New("workflow not found")

// Store is the persistence boundary for workflow states
type Store interface {
	Put(ctx context.Context, id string, state model.WorkflowState) error
	Get(ctx context.Context, id string) (model.WorkflowState, error)
	// List returns request-level states, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]model.WorkflowState, error)
	Close() error
}

// Memory is a process-local Store
type Memory struct {
	mu     sync.RWMutex
	states map[string]model.WorkflowState
}

func NewMemory() *Memory {
	return &Memory{states: make(map[string]model.WorkflowState)}
}

func (m *Memory) Put(ctx context.Context, id string, state model.WorkflowState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (model.WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	if !ok {
		return model.WorkflowState{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]model.WorkflowState, error) {
	m.mu.RLock()
	var out []model.WorkflowState
	for _, s := range m.states {
		if s.Kind == model.KindRequest {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
