// Package store implements C2 MessageStore: per-user message persistence
// plus the processed-webhook-ID dedup set. The in-memory implementation is
// required and is what internal/batching exercises; RedisStore and
// PostgresStore in this package satisfy the same interface for deployments
// that want durability.
package store

import (
	"context"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// MessageStore is the persistence boundary for one user's pending message
// log and its processed-ID dedup set. Implementations must not leak state
// across users and must make hasProcessed/markProcessed linearisable per
// (userID, messageID).
type MessageStore interface {
	// Store appends msg to userID's pending log.
	Store(ctx context.Context, userID string, msg models.Message) error
	// Retrieve returns an immutable ordered snapshot of userID's pending log.
	Retrieve(ctx context.Context, userID string) ([]models.Message, error)
	// Remove clears userID's pending log (called after a batch is drained).
	Remove(ctx context.Context, userID string) error
	// HasProcessed reports whether msgID was already marked processed for userID.
	HasProcessed(ctx context.Context, userID, msgID string) (bool, error)
	// MarkProcessed idempotently records msgID as processed for userID,
	// evicting the least-recently-inserted entry if the per-user LRU is at
	// capacity.
	MarkProcessed(ctx context.Context, userID, msgID string) error
}
