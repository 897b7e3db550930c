// Package mirror replicates the published book to a remote key-value store
// and listens for replacement payloads pushed from other writers.
package mirror

import (
	"context"
	"encoding/json"

	"catatkas/backend/internal/domain"
)

// Event is a record-set replacement pushed by a remote writer. Set names the
// record set being replaced; Payload is its full JSON array (or object, for
// offsets and metrics).
type Event struct {
	Set     string          `json:"set"`
	Payload json.RawMessage `json:"payload"`
}

type Mirror interface {
	// SaveSnapshot publishes every record set of the book under the owner's
	// namespace. Failures must not block the local write path.
	SaveSnapshot(ctx context.Context, owner string, snap *domain.BookSnapshot, metrics domain.MetricsSnapshot) error
	// Subscribe delivers replacement events for the owner's book until ctx
	// is cancelled.
	Subscribe(ctx context.Context, owner string, handler func(Event)) error
	Close() error
}

type Noop struct{}

func (Noop) SaveSnapshot(_ context.Context, _ string, _ *domain.BookSnapshot, _ domain.MetricsSnapshot) error {
	return nil
}

func (Noop) Subscribe(_ context.Context, _ string, _ func(Event)) error {
	return nil
}

func (Noop) Close() error {
	return nil
}
