package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// beginTimestamp is 2022-01-01T00:00:00Z. Seconds since this epoch fit the
// high bits of an int64 id for decades.
const (
	beginTimestamp int64 = 1640995200
	sequenceBits         = 32
)

// IDWorker hands out globally unique, per-namespace monotonic int64 ids.
// Layout: [seconds since epoch : high bits][day-scoped sequence : 32 low bits].
// The only shared state is one INCR per call, so there is no central
// sequencer to contend on.
type IDWorker struct {
	client *redis.Client
}

func NewIDWorker(client *redis.Client) *IDWorker {
	return &IDWorker{client: client}
}

func (w *IDWorker) NextID(ctx context.Context, namespace string) (int64, error) {
	now := time.Now().UTC()
	timestamp := now.Unix() - beginTimestamp

	// Scoping the counter key to the calendar day keeps any single
	// counter far away from 2^32 and makes usage easy to inspect per day.
	key := fmt.Sprintf("icr:%s:%s", namespace, now.Format("20060102"))
	seq, err := w.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("id worker: increment %s: %w", key, err)
	}

	return timestamp<<sequenceBits | seq, nil
}
