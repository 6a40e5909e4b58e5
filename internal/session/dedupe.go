package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "dedupe:"

// Deduper records fully processed message IDs for the dedup window, so
// redeliveries of an already-handled message are dropped instead of
// reprocessed. The check/mark pair is not atomic on its own; callers run it
// under the conversation lock, which serializes deliveries that could race.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

// Seen reports whether the message ID was already processed within the
// dedup window.
func (d *Deduper) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupeKeyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("checking message id: %w", err)
	}
	return n > 0, nil
}

// Mark records the message ID as processed. Called only after the message's
// effects are fully persisted, so a crash before Mark redelivers rather than
// drops.
func (d *Deduper) Mark(ctx context.Context, messageID string) error {
	if err := d.client.Set(ctx, dedupeKeyPrefix+messageID, "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("marking message id: %w", err)
	}
	return nil
}
