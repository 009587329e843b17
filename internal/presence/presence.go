// Package presence tracks who is typing in a thread.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypingTTL is how long a typing signal stays live without a refresh.
const TypingTTL = 3 * time.Second

// Tracker keeps one sorted set per thread whose scores are expiry times in
// milliseconds.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func New(client *redis.Client) *Tracker {
	return &Tracker{client: client, ttl: TypingTTL, now: time.Now}
}

func key(threadID string) string {
	return "typing:" + threadID
}

func (t *Tracker) SetTyping(ctx context.Context, threadID, userID string, typing bool) error {
	if !typing {
		if err := t.client.ZRem(ctx, key(threadID), userID).Err(); err != nil {
			return fmt.Errorf("clear typing: %w", err)
		}
		return nil
	}
	expires := t.now().Add(t.ttl).UnixMilli()
	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, key(threadID), redis.Z{Score: float64(expires), Member: userID})
	pipe.Expire(ctx, key(threadID), 2*t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// TypingUsers returns users whose typing signal has not expired, pruning the
// stale ones.
func (t *Tracker) TypingUsers(ctx context.Context, threadID string) ([]string, error) {
	now := strconv.FormatInt(t.now().UnixMilli(), 10)
	if err := t.client.ZRemRangeByScore(ctx, key(threadID), "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("prune typing: %w", err)
	}
	users, err := t.client.ZRangeByScore(ctx, key(threadID), &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list typing: %w", err)
	}
	return users, nil
}

func (t *Tracker) ClearThread(ctx context.Context, threadID string) error {
	if err := t.client.Del(ctx, key(threadID)).Err(); err != nil {
		return fmt.Errorf("clear thread typing: %w", err)
	}
	return nil
}
