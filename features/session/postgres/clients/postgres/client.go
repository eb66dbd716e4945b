// Package postgres hosts the PostgreSQL client backing the Conversation
// State Store's relational backend: a single conversation_states table
// written with upsert semantics.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"goa.design/clue/health"

	"github.com/archplane/core/runtime/agent/session"
)

const (
	defaultOpTimeout = 5 * time.Second
	clientName       = "session-postgres"
)

const ddlConversationStates = `
CREATE TABLE IF NOT EXISTS conversation_states (
    response_id  TEXT         PRIMARY KEY,
    input_items  JSONB        NOT NULL DEFAULT '[]',
    created_at   BIGINT       NOT NULL,
    model        TEXT         NOT NULL DEFAULT '',
    provider     TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Client exposes PostgreSQL-backed operations for the Conversation State
// Store.
type Client interface {
	health.Pinger

	Put(ctx context.Context, row session.Row) error
	Get(ctx context.Context, responseID string) (session.Row, error)
}

// Options configures the PostgreSQL client.
type Options struct {
	// Pool is a preconstructed pgxpool.Pool. When nil, New dials DSN.
	Pool    *pgxpool.Pool
	DSN     string
	Timeout time.Duration
}

type client struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New returns a Client backed by PostgreSQL, creating the
// conversation_states table if it does not already exist.
func New(ctx context.Context, opts Options) (Client, error) {
	pool := opts.Pool
	if pool == nil {
		if opts.DSN == "" {
			return nil, errors.New("dsn or pool is required")
		}
		cfg, err := pgxpool.ParseConfig(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("session postgres: parse dsn: %w", err)
		}
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("session postgres: create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("session postgres: ping: %w", err)
		}
	}

	if _, err := pool.Exec(ctx, ddlConversationStates); err != nil {
		return nil, fmt.Errorf("session postgres: migrate: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{pool: pool, timeout: timeout}, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.pool.Ping(ctx)
}

// Put implements Client. It upserts a single row keyed by row.ResponseID;
// repeated writes to the same response id replace the prior row, matching
// the put/get contract's "writes use upsert semantics" rule. Prior rows for
// other response ids are never touched.
func (c *client) Put(ctx context.Context, row session.Row) error {
	if row.ResponseID == "" {
		return errors.New("response id is required")
	}
	itemsJSON, err := json.Marshal(row.Items)
	if err != nil {
		return fmt.Errorf("session postgres: marshal input items: %w", err)
	}

	const q = `
		INSERT INTO conversation_states (response_id, input_items, created_at, model, provider, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (response_id) DO UPDATE SET
		    input_items = EXCLUDED.input_items,
		    created_at  = EXCLUDED.created_at,
		    model       = EXCLUDED.model,
		    provider    = EXCLUDED.provider,
		    updated_at  = now()`

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.pool.Exec(ctx, q, row.ResponseID, itemsJSON, row.CreatedAt, row.Model, row.Provider)
	if err != nil {
		return fmt.Errorf("session postgres: put: %w", err)
	}
	return nil
}

// Get implements Client.
func (c *client) Get(ctx context.Context, responseID string) (session.Row, error) {
	if responseID == "" {
		return session.Row{}, errors.New("response id is required")
	}

	const q = `
		SELECT response_id, input_items, created_at, model, provider, updated_at
		FROM   conversation_states
		WHERE  response_id = $1`

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	row := c.pool.QueryRow(ctx, q, responseID)

	var (
		itemsJSON []byte
		out       session.Row
	)
	if err := row.Scan(&out.ResponseID, &itemsJSON, &out.CreatedAt, &out.Model, &out.Provider, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Row{}, session.ErrNotFound
		}
		return session.Row{}, fmt.Errorf("session postgres: get: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &out.Items); err != nil {
		return session.Row{}, fmt.Errorf("session postgres: unmarshal input items: %w", err)
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
