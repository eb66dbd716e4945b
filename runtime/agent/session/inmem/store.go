// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests, local development, and single-process
// deployments. Production deployments spanning more than one process should
// use a durable backend (for example features/session/postgres).
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/archplane/core/runtime/agent/model"
	"github.com/archplane/core/runtime/agent/session"
)

// Store is an in-memory implementation of session.Store. A single mutex
// guards every key, so writes to the same response id can never interleave.
// It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	rows map[string]session.Row
}

// New returns an empty Store.
func New() *Store {
	return &Store{rows: make(map[string]session.Row)}
}

// Put implements session.Store.
func (s *Store) Put(_ context.Context, row session.Row) error {
	if row.ResponseID == "" {
		return errors.New("response id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row.UpdatedAt = time.Now().UTC()
	s.rows[row.ResponseID] = cloneRow(row)
	return nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, responseID string) (session.Row, error) {
	if responseID == "" {
		return session.Row{}, errors.New("response id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[responseID]
	if !ok {
		return session.Row{}, session.ErrNotFound
	}
	return cloneRow(row), nil
}

func cloneRow(in session.Row) session.Row {
	out := in
	if len(in.Items) > 0 {
		out.Items = append([]*model.Message(nil), in.Items...)
	}
	return out
}
