package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/whatsapp-agent-gateway/gateway/internal/models"
)

// RedisStore is the durable MessageStore backed by Redis: one list per user
// for the pending log (messages:pending:<userID>) and one set per user for
// the processed-ID dedup window (messages:processed:<userID>), trimmed to
// maxProcessedIDs on every insert.
type RedisStore struct {
	client          *redis.Client
	maxProcessedIDs int64
	opTimeout       time.Duration
}

// NewRedisStore constructs a RedisStore against an already-connected client.
func NewRedisStore(client *redis.Client, maxProcessedIDs int) *RedisStore {
	if maxProcessedIDs <= 0 {
		maxProcessedIDs = 5000
	}
	return &RedisStore{
		client:          client,
		maxProcessedIDs: int64(maxProcessedIDs),
		opTimeout:       5 * time.Second,
	}
}

func pendingKey(userID string) string   { return fmt.Sprintf("messages:pending:%s", userID) }
func processedKey(userID string) string { return fmt.Sprintf("messages:processed:%s", userID) }

func (s *RedisStore) Store(ctx context.Context, userID string, msg models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	if err := s.client.RPush(ctx, pendingKey(userID), data).Err(); err != nil {
		return errors.Wrap(err, "rpush pending message")
	}
	return nil
}

func (s *RedisStore) Retrieve(ctx context.Context, userID string) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	raw, err := s.client.LRange(ctx, pendingKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "lrange pending messages")
	}
	out := make([]models.Message, 0, len(raw))
	for _, r := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, errors.Wrap(err, "unmarshal pending message")
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Remove(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, pendingKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "delete pending messages")
	}
	return nil
}

func (s *RedisStore) HasProcessed(ctx context.Context, userID, msgID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := s.client.SIsMember(ctx, processedKey(userID), msgID).Result()
	if err != nil {
		return false, errors.Wrap(err, "sismember processed")
	}
	return n, nil
}

// MarkProcessed records msgID as processed. Redis sets have no native insert
// order, so capacity enforcement here is approximate: right after the SADD,
// an SCARD over capacity triggers a best-effort SPOP of excess (random)
// members rather than evicting the precise least-recently-inserted one the in-memory store
// guarantees. Deployments that need exact LRU eviction semantics for the
// dedup window should use the in-memory or Postgres store.
func (s *RedisStore) MarkProcessed(ctx context.Context, userID, msgID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	key := processedKey(userID)
	pipe := s.client.TxPipeline()
	addCmd := pipe.SAdd(ctx, key, msgID)
	cardCmd := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "mark processed pipeline")
	}
	if _, err := addCmd.Result(); err != nil {
		return errors.Wrap(err, "sadd processed")
	}
	card, err := cardCmd.Result()
	if err != nil {
		return errors.Wrap(err, "scard processed")
	}
	if card > s.maxProcessedIDs {
		excess := card - s.maxProcessedIDs
		if err := s.client.SPopN(ctx, key, excess).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return errors.Wrap(err, "evict excess processed ids")
		}
	}
	return nil
}

// RemoveUser deletes both of userID's keys. BatchingService's idle-eviction
// sweep does not call it.
func (s *RedisStore) RemoveUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Del(ctx, pendingKey(userID), processedKey(userID)).Err()
}

var _ MessageStore = (*RedisStore)(nil)
