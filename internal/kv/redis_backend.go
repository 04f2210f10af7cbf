package kv

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// compareAndDeleteScript deletes KEYS[1] only if its current value is
// ARGV[1], atomically — the compare-and-delete release the spec requires
// for lock tokens (see internal/dedup).
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisBackend implements Backend against a real Redis (or Redis-compatible)
// server via go-redis/v9. Mechanics for stream consumer groups (XReadGroup,
// XAutoClaim, MKSTREAM, BUSYGROUP tolerance, MaxLen-approx trimming) are
// grounded on the brokle telemetry stream consumer's usage of the same
// go-redis APIs.
type RedisBackend struct {
	client *redis.Client
	casSHA string
}

// NewRedisBackend dials addr/db and returns a ready Backend.
func NewRedisBackend(ctx context.Context, addr string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	sha, err := client.ScriptLoad(ctx, compareAndDeleteScript).Result()
	if err != nil {
		return nil, err
	}
	return &RedisBackend{client: client, casSHA: sha}, nil
}

// NewRedisBackendFromClient wraps an already-constructed client, loading the
// compare-and-delete script on it.
func NewRedisBackendFromClient(ctx context.Context, client *redis.Client) (*RedisBackend, error) {
	sha, err := client.ScriptLoad(ctx, compareAndDeleteScript).Result()
	if err != nil {
		return nil, err
	}
	return &RedisBackend{client: client, casSHA: sha}, nil
}

func (b *RedisBackend) Close() error { return b.client.Close() }

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, key, value, ttl).Result()
}

func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.client.Expire(ctx, key, ttl).Err()
}

func (b *RedisBackend) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	res, err := b.client.EvalSha(ctx, b.casSHA, []string{key}, token).Result()
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		res, err = b.client.Eval(ctx, compareAndDeleteScript, []string{key}, token).Result()
	}
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (b *RedisBackend) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return b.client.HIncrBy(ctx, key, field, delta).Result()
}

func (b *RedisBackend) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	fields := make([]any, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
	}
	return b.client.HSet(ctx, key, fields...).Err()
}

func (b *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

func (b *RedisBackend) HExists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (b *RedisBackend) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SAdd(ctx, key, args...).Err()
}

func (b *RedisBackend) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SRem(ctx, key, args...).Err()
}

func (b *RedisBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.client.SMembers(ctx, key).Result()
}

func (b *RedisBackend) LPush(ctx context.Context, key, value string) error {
	return b.client.LPush(ctx, key, value).Err()
}

func (b *RedisBackend) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return b.client.LRange(ctx, key, start, stop).Result()
}

func (b *RedisBackend) XGroupCreate(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0-0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (b *RedisBackend) XAdd(ctx context.Context, stream string, values map[string]string, maxLenApprox int64) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if maxLenApprox > 0 {
		args.MaxLen = maxLenApprox
		args.Approx = true
	}
	return b.client.XAdd(ctx, args).Result()
}

func (b *RedisBackend) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toStreamMessages(res), nil
}

func (b *RedisBackend) XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]StreamMessage, string, error) {
	msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", err
	}
	out := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, StreamMessage{ID: m.ID, Values: toStringMap(m.Values)})
	}
	return out, next, nil
}

func (b *RedisBackend) XAck(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.client.XAck(ctx, stream, group, ids...).Err()
}

func (b *RedisBackend) XPendingCount(ctx context.Context, stream, group string) (int64, error) {
	res, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (b *RedisBackend) XRange(ctx context.Context, stream, start, stop string, count int64, reverse bool) ([]StreamMessage, error) {
	var msgs []redis.XMessage
	var err error
	if reverse {
		if count > 0 {
			msgs, err = b.client.XRevRangeN(ctx, stream, start, stop, count).Result()
		} else {
			msgs, err = b.client.XRevRange(ctx, stream, start, stop).Result()
		}
	} else {
		if count > 0 {
			msgs, err = b.client.XRangeN(ctx, stream, start, stop, count).Result()
		} else {
			msgs, err = b.client.XRange(ctx, stream, start, stop).Result()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, StreamMessage{ID: m.ID, Values: toStringMap(m.Values)})
	}
	return out, nil
}

func toStreamMessages(streams []redis.XStream) []StreamMessage {
	var out []StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, StreamMessage{ID: m.ID, Values: toStringMap(m.Values)})
		}
	}
	return out
}

func toStringMap(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case string:
			out[k] = t
		case int64:
			out[k] = strconv.FormatInt(t, 10)
		default:
			out[k] = ""
		}
	}
	return out
}
