package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable wraps Redis transport failures so callers can
// distinguish "over budget" from "cannot tell".
var ErrBackendUnavailable = errors.New("rate limit backend unavailable")

const redisTxRetries = 4

// Redis is the shared-counter Limiter backend for multi-process
// deployments. Each key is a sorted set of event timestamps scored in
// unix nanoseconds; the sliding window is enforced by trimming scores
// older than the window before counting.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter. Keys are namespaced under
// prefix (default "arl").
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "arl"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

// Check counts in-window events without recording.
func (r *Redis) Check(ctx context.Context, key string, policy Policy) (Result, error) {
	now := r.now()
	cutoff := now.Add(-policy.Window)
	full := r.key(key)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, full, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, full)
	oldest := pipe.ZRangeWithScores(ctx, full, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return buildResult(int(card.Val()), oldest.Val(), policy, now), nil
}

// Record appends an event unconditionally and refreshes the key TTL.
func (r *Redis) Record(ctx context.Context, key string, policy Policy) error {
	now := r.now()
	full := r.key(key)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, full, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: memberID(now),
	})
	pipe.Expire(ctx, full, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Allow trims, counts, and conditionally records under an optimistic
// transaction so two racing callers cannot both take the last slot.
func (r *Redis) Allow(ctx context.Context, key string, policy Policy) (Result, error) {
	full := r.key(key)

	for i := 0; i < redisTxRetries; i++ {
		var out Result

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			now := r.now()
			cutoff := strconv.FormatInt(now.Add(-policy.Window).UnixNano(), 10)

			if err := tx.ZRemRangeByScore(ctx, full, "-inf", cutoff).Err(); err != nil {
				return err
			}
			count, err := tx.ZCard(ctx, full).Result()
			if err != nil {
				return err
			}
			oldest, err := tx.ZRangeWithScores(ctx, full, 0, 0).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			out = buildResult(int(count), oldest, policy, now)
			if !out.Allowed {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, full, redis.Z{
					Score:  float64(now.UnixNano()),
					Member: memberID(now),
				})
				pipe.Expire(ctx, full, policy.Window)
				return nil
			})
			if err != nil {
				return err
			}

			out.Remaining--
			if out.Remaining < 0 {
				out.Remaining = 0
			}
			return nil
		}, full)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return out, nil
	}

	return Result{}, fmt.Errorf("%w: transaction contention", ErrBackendUnavailable)
}

// Clear drops the key immediately.
func (r *Redis) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func buildResult(count int, oldest []redis.Z, policy Policy, now time.Time) Result {
	res := Result{
		Allowed:   count < policy.Limit,
		Remaining: policy.Limit - count,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed && len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		res.RetryAfter = oldestAt.Add(policy.Window).Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res
}

// memberID keeps sorted-set members unique even when two events share a
// nanosecond timestamp.
func memberID(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
}
