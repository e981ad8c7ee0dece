package offline

import (
	"context"
	"encoding/json"
)

// Operation is one deferred mutation captured while the origin was
// unreachable.
type Operation struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// PendingOperation is an Operation at rest: the auto-incrementing id doubles
// as the replay order. Records are inserted whole and deleted whole, never
// mutated in place.
type PendingOperation struct {
	ID     uint64          `json:"id"`
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Store is the durable pending-operations queue. Append must be crash-safe:
// once it returns, the record survives a process restart. List returns every
// pending record in insertion order.
type Store interface {
	Append(ctx context.Context, op Operation) (uint64, error)
	List(ctx context.Context) ([]PendingOperation, error)
	Delete(ctx context.Context, id uint64) error
	Len(ctx context.Context) (int, error)
	Close() error
}
