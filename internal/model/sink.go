package model

import "context"

// Sink persists or forwards export batches. Implementations receive batches
// in timestamp order from a single flusher goroutine; WriteBatch contexts
// carry the configured write timeout.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, batch *ExportBatch) error

	// Close releases the sink after a final flush. No WriteBatch calls
	// follow it.
	Close(ctx context.Context) error
}
