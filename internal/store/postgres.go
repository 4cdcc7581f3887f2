package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_store_operations_total",
		Help: "Total number of message store operations, by operation and status.",
	}, []string{"operation", "status"})

	storeOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_store_operation_duration_seconds",
		Help:    "Duration of message store operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

const defaultQueryTimeout = 10 * time.Second

// PostgresStore is the durable MessageStore backed by PostgreSQL: pending
// messages and processed-ID dedup state each live in their own table,
// scoped by user_id, ordered by an auto-incrementing seq column so eviction
// and retrieval preserve insertion order exactly like MemoryStore.
type PostgresStore struct {
	db              *sql.DB
	maxProcessedIDs int
}

// NewPostgresStore runs the embedded schema migrations against db and
// returns a ready PostgresStore. Callers own db's lifecycle.
func NewPostgresStore(ctx context.Context, db *sql.DB, maxProcessedIDs int) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if maxProcessedIDs <= 0 {
		maxProcessedIDs = 5000
	}
	if err := applyMigrations(db); err != nil {
		return nil, errors.Wrap(err, "apply migrations")
	}
	return &PostgresStore{db: db, maxProcessedIDs: maxProcessedIDs}, nil
}

func (s *PostgresStore) Store(ctx context.Context, userID string, msg models.Message) error {
	timer := prometheus.NewTimer(storeOpDuration.WithLabelValues("store"))
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_messages (user_id, message_id, content, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, message_id) DO NOTHING`,
		userID, msg.MessageID, msg.Content, msg.ReceivedAt)
	if err != nil {
		storeOps.WithLabelValues("store", "error").Inc()
		return errors.Wrap(err, "insert pending message")
	}
	storeOps.WithLabelValues("store", "success").Inc()
	return nil
}

func (s *PostgresStore) Retrieve(ctx context.Context, userID string) ([]models.Message, error) {
	timer := prometheus.NewTimer(storeOpDuration.WithLabelValues("retrieve"))
	defer timer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, content, received_at FROM pending_messages
		WHERE user_id = $1 ORDER BY seq ASC`, userID)
	if err != nil {
		storeOps.WithLabelValues("retrieve", "error").Inc()
		return nil, errors.Wrap(err, "query pending messages")
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		m.UserID = userID
		if err := rows.Scan(&m.MessageID, &m.Content, &m.ReceivedAt); err != nil {
			storeOps.WithLabelValues("retrieve", "error").Inc()
			return nil, errors.Wrap(err, "scan pending message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		storeOps.WithLabelValues("retrieve", "error").Inc()
		return nil, errors.Wrap(err, "iterate pending messages")
	}
	storeOps.WithLabelValues("retrieve", "success").Inc()
	return out, nil
}

func (s *PostgresStore) Remove(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_messages WHERE user_id = $1`, userID); err != nil {
		storeOps.WithLabelValues("remove", "error").Inc()
		return errors.Wrap(err, "delete pending messages")
	}
	storeOps.WithLabelValues("remove", "success").Inc()
	return nil
}

func (s *PostgresStore) HasProcessed(ctx context.Context, userID, msgID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_ids WHERE user_id = $1 AND message_id = $2)`,
		userID, msgID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "query processed id")
	}
	return exists, nil
}

// MarkProcessed inserts msgID (idempotently) and evicts the oldest rows
// beyond maxProcessedIDs by seq, matching MemoryStore's insertion-order LRU.
func (s *PostgresStore) MarkProcessed(ctx context.Context, userID, msgID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO processed_ids (user_id, message_id) VALUES ($1, $2)
		ON CONFLICT (user_id, message_id) DO NOTHING`, userID, msgID); err != nil {
		return errors.Wrap(err, "insert processed id")
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processed_ids WHERE user_id = $1 AND seq IN (
			SELECT seq FROM processed_ids WHERE user_id = $1
			ORDER BY seq DESC OFFSET $2
		)`, userID, s.maxProcessedIDs); err != nil {
		return errors.Wrap(err, "evict excess processed ids")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// RemoveUser deletes all of userID's pending and processed rows.
func (s *PostgresStore) RemoveUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_messages WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "delete pending messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_ids WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "delete processed ids")
	}
	return tx.Commit()
}

var _ MessageStore = (*PostgresStore)(nil)
