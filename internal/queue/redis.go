package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dotabank/dotabank/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the configured Redis and pings it.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Lease scripts keep pop and ack atomic. The pending list holds message
// bodies, <key>:leases scores leased replay ids by deadline (unix ms) and
// <key>:leased maps each leased id back to its body.
var (
	claimScript = redis.NewScript(`
local body = redis.call('RPOP', KEYS[1])
if not body then
	return false
end
local id = string.match(body, '"replay_id":(%-?%d+)')
if id then
	redis.call('ZADD', KEYS[2], ARGV[1], id)
	redis.call('HSET', KEYS[3], id, body)
end
return body
`)

	reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[2], id)
	local body = redis.call('HGET', KEYS[3], id)
	redis.call('HDEL', KEYS[3], id)
	if body then
		redis.call('RPUSH', KEYS[1], body)
	end
end
return #ids
`)
)

const (
	defaultLease    = 30 * time.Minute
	popPollInterval = 250 * time.Millisecond
	reclaimBatch    = 500
)

// RedisQueue is a FIFO list: producers LPUSH, consumers pop from the right
// under a lease.
type RedisQueue struct {
	client *redis.Client
	key    string
	lease  time.Duration
	now    func() time.Time
}

// NewRedisQueue creates a queue on key. A non-positive lease uses the default.
func NewRedisQueue(client *redis.Client, key string, lease time.Duration) *RedisQueue {
	if lease <= 0 {
		lease = defaultLease
	}
	return &RedisQueue{client: client, key: key, lease: lease, now: time.Now}
}

// NewRedisSet builds both pipeline queues from config.
func NewRedisSet(client *redis.Client, cfg *config.QueueConfig) Set {
	return Set{
		Metadata: NewRedisQueue(client, cfg.MetadataQueue, cfg.LeaseTimeout),
		Download: NewRedisQueue(client, cfg.DownloadQueue, cfg.LeaseTimeout),
	}
}

func (q *RedisQueue) Name() string {
	return q.key
}

func (q *RedisQueue) leasesKey() string { return q.key + ":leases" }
func (q *RedisQueue) leasedKey() string { return q.key + ":leased" }

func (q *RedisQueue) Push(ctx context.Context, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", q.key, err)
	}
	return nil
}

// Pop takes the oldest message and leases it. With a positive wait it polls
// until a message arrives, the wait runs out or ctx is done.
func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msg, err := q.claim(ctx)
		if !errors.Is(err, ErrEmpty) {
			return msg, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return Message{}, ErrEmpty
		}
		timer := time.NewTimer(min(popPollInterval, left))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Message{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (Message, error) {
	deadline := q.now().Add(q.lease).UnixMilli()
	body, err := claimScript.Run(ctx, q.client, []string{q.key, q.leasesKey(), q.leasedKey()}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrEmpty
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to pop from %s: %w", q.key, err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message from %s: %w", q.key, err)
	}
	return msg, nil
}

func (q *RedisQueue) Ack(ctx context.Context, replayID int64) error {
	id := strconv.FormatInt(replayID, 10)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.leasesKey(), id)
		pipe.HDel(ctx, q.leasedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack replay %d on %s: %w", replayID, q.key, err)
	}
	return nil
}

// Reclaim moves expired leases back to the consuming end of the list so they
// are delivered next.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	var total int
	for {
		n, err := reclaimScript.Run(ctx, q.client,
			[]string{q.key, q.leasesKey(), q.leasedKey()},
			q.now().UnixMilli(), reclaimBatch,
		).Int()
		if err != nil {
			return total, fmt.Errorf("failed to reclaim leases on %s: %w", q.key, err)
		}
		total += n
		if n < reclaimBatch {
			return total, nil
		}
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Leased(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.leasesKey()).Result()
}
