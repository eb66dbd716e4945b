package postgres

import (
	"context"
	"errors"

	"github.com/archplane/core/features/session/postgres/clients/postgres"
	"github.com/archplane/core/runtime/agent/session"
)

// Store implements session.Store by delegating to the PostgreSQL client.
type Store struct {
	client postgres.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client postgres.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Put implements session.Store.
func (s *Store) Put(ctx context.Context, row session.Row) error {
	return s.client.Put(ctx, row)
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, responseID string) (session.Row, error) {
	return s.client.Get(ctx, responseID)
}
