// Package snapshot publishes the gateway's resilience state (probe results,
// breaker metrics and instance lists) to a shared store so that several
// gateway replicas can be inspected from one place.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for a missing or expired document.
var ErrNotFound = errors.New("snapshot not found")

// Store persists encoded snapshot documents keyed by gateway ID.
type Store interface {
	// Put stores data for gatewayID. A positive ttl expires the entry.
	Put(ctx context.Context, gatewayID string, data []byte, ttl time.Duration) error

	// Get returns the document for gatewayID or ErrNotFound.
	Get(ctx context.Context, gatewayID string) ([]byte, error)

	// List returns the IDs of all live documents.
	List(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
