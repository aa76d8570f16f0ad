package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/collector/internal/core/domain"
)

// DeadLetterRepo parks undecodable inbound messages for operator inspection.
type DeadLetterRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeadLetterRepo creates a new Redis-backed dead-letter store.
func NewDeadLetterRepo(client *Client, ttl time.Duration) *DeadLetterRepo {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DeadLetterRepo{rdb: client.rdb, ttl: ttl}
}

// Key helpers
func deadLetterQueueKey() string {
	return "dead_letters"
}

func deadLetterKey(id string) string {
	return fmt.Sprintf("dead_letter:%s", id)
}

// Park stores a dead letter. The index is ordered by receive time.
func (r *DeadLetterRepo) Park(ctx context.Context, dl *domain.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := r.rdb.Set(ctx, deadLetterKey(dl.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set dead letter: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, deadLetterQueueKey(), redis.Z{
		Score:  float64(dl.ReceivedAt.UnixMilli()),
		Member: dl.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to index: %w", err)
	}

	return nil
}

// List returns up to limit dead letters, oldest first. Entries whose data
// expired are pruned from the index.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRange(ctx, deadLetterQueueKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]*domain.DeadLetter, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, deadLetterKey(id)).Bytes()
		if err == redis.Nil {
			r.rdb.ZRem(ctx, deadLetterQueueKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get dead letter: %w", err)
		}

		var dl domain.DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil {
			continue
		}
		out = append(out, &dl)
	}
	return out, nil
}

// Remove deletes a dead letter.
func (r *DeadLetterRepo) Remove(ctx context.Context, id string) error {
	if err := r.rdb.ZRem(ctx, deadLetterQueueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := r.rdb.Del(ctx, deadLetterKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

// Count returns the number of indexed dead letters.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, deadLetterQueueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
