package batching

import (
	"context"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// Processor is the sink that turns one user's batch into an interaction
// with the downstream agent and transport. The core does not interpret its
// internals; a single call is one attempt, and the retry machinery
// re-invokes Process with the same batch on Transient/Fatal results.
//
// The core guarantees batch is non-empty and ordered by ReceivedAt, that
// concurrent invocations for different userIDs are permitted, and that at
// most one invocation for a given userID is ever in flight.
type Processor interface {
	Process(ctx context.Context, userID string, batch []models.Message) Result
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, userID string, batch []models.Message) Result

func (f ProcessorFunc) Process(ctx context.Context, userID string, batch []models.Message) Result {
	return f(ctx, userID, batch)
}

// Notifier delivers a best-effort, user-visible text notification. It backs
// REJECT_WITH_NOTIFY backpressure and the notifyUserOnFailure retry-
// exhaustion path. A nil Notifier makes both of those paths no-ops.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// DeadLetterHandler receives ownership of a batch that exhausted retries.
// Handler errors are logged and swallowed -- the DLQ is best-effort once
// invoked, but its mere presence still changes dedup semantics (§4.10).
type DeadLetterHandler func(ctx context.Context, userID string, batch []models.Message) error
