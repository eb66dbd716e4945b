// Package session implements the Conversation State Store: a row keyed by
// response id, holding the input items that produced it, so that a later
// request bearing previous_response_id can be resumed without the caller
// resending the full transcript.
//
// Contract: Put(response_id, items, model, provider, created_at) and
// Get(response_id) -> items | NotFound. Prior rows are never mutated: a new
// response id always gets a new row.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/archplane/core/runtime/agent/model"
)

type (
	// Row is the persisted unit for one response id.
	Row struct {
		// ResponseID is the primary key: the id of the response this row
		// records the input items for.
		ResponseID string
		// Items is the ordered input message list that produced ResponseID.
		Items []*model.Message
		// Model is the model name used to produce ResponseID.
		Model string
		// Provider is the provider id used to produce ResponseID.
		Provider string
		// CreatedAt is the caller-supplied logical creation timestamp (epoch
		// seconds), mirroring the provider's own created field rather than
		// wall-clock time at write.
		CreatedAt int64
		// UpdatedAt is set by the store on every write.
		UpdatedAt time.Time
	}

	// Store persists and retrieves Row values keyed by response id.
	//
	// Implementations must not interleave two writes to the same key: see
	// the in-memory and relational backends for how each enforces this.
	Store interface {
		// Put writes row, keyed by row.ResponseID. Put is an upsert: writing
		// the same response id twice replaces the row.
		Put(ctx context.Context, row Row) error
		// Get returns the row for responseID, or ErrNotFound.
		Get(ctx context.Context, responseID string) (Row, error)
	}
)

// ErrNotFound indicates no row exists for the requested response id. Callers
// treat this the same as "no prior context": see MergeInputItems.
var ErrNotFound = errors.New("conversation state: response id not found")

// MergeInputItems appends newItems to the stored row's items, returning a new
// slice. It never mutates prev.Items, matching the store's no-in-place-
// mutation rule for prior rows: only the freshly produced response id gets a
// new row, the row that previousResponseID named is left untouched.
func MergeInputItems(prev Row, newItems []*model.Message) []*model.Message {
	merged := make([]*model.Message, 0, len(prev.Items)+len(newItems))
	merged = append(merged, prev.Items...)
	merged = append(merged, newItems...)
	return merged
}
