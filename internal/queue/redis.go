package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// sendScript stores the message hash and schedules it at server time + delay.
// KEYS[1]=visibility zset KEYS[2]=message hash; ARGV: id, body, attrs, delay ms
var sendScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('HSET', KEYS[2], 'body', ARGV[2], 'attrs', ARGV[3], 'receive_count', 0, 'receipt', '')
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[4]), ARGV[1])
return 1
`)

// receiveScript leases the oldest visible message by pushing its score to
// now + lease and rotating its receipt token.
// KEYS[1]=visibility zset; ARGV: message key prefix, lease ms, receipt token
var receiveScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local key = ARGV[1] .. id
if redis.call('EXISTS', key) == 0 then
  redis.call('ZREM', KEYS[1], id)
  return false
end
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[2]), id)
redis.call('HSET', key, 'receipt', ARGV[3])
local count = redis.call('HINCRBY', key, 'receive_count', 1)
local fields = redis.call('HMGET', key, 'body', 'attrs')
return {id, fields[1], fields[2], count}
`)

// deleteScript removes the message only if the receipt is still current.
// KEYS[1]=visibility zset KEYS[2]=message hash; ARGV: id, receipt token
var deleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'receipt') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// RedisQueue implements Queue on a sorted set scored by visibility time
type RedisQueue struct {
	client    redis.UniversalClient
	name      string
	keyPrefix string
}

// NewRedisQueue creates a queue stored under "<prefix>:<name>:*" keys
func NewRedisQueue(client redis.UniversalClient, prefix, name string) *RedisQueue {
	if prefix == "" {
		prefix = "dvt"
	}
	return &RedisQueue{
		client:    client,
		name:      name,
		keyPrefix: prefix + ":" + name,
	}
}

func (q *RedisQueue) visibilityKey() string { return q.keyPrefix + ":visible" }
func (q *RedisQueue) messagePrefix() string { return q.keyPrefix + ":msg:" }

func (q *RedisQueue) Send(ctx context.Context, body string, attributes map[string]string, delay time.Duration) error {
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	id := uuid.NewString()
	keys := []string{q.visibilityKey(), q.messagePrefix() + id}
	if err := sendScript.Run(ctx, q.client, keys, id, body, string(attrs), delay.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("send to %s: %w", q.name, err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, lease, wait time.Duration) (*Message, error) {
	return waitForMessage(ctx, wait, func() (*Message, error) {
		return q.receiveOnce(ctx, lease)
	})
}

func (q *RedisQueue) receiveOnce(ctx context.Context, lease time.Duration) (*Message, error) {
	token := uuid.NewString()
	res, err := receiveScript.Run(ctx, q.client, []string{q.visibilityKey()},
		q.messagePrefix(), lease.Milliseconds(), token).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.name, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("receive from %s: unexpected reply %v", q.name, res)
	}

	id, _ := res[0].(string)
	body, _ := res[1].(string)
	rawAttrs, _ := res[2].(string)
	count, _ := res[3].(int64)

	var attrs map[string]string
	if rawAttrs != "" {
		if err := json.Unmarshal([]byte(rawAttrs), &attrs); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", id, err)
		}
	}

	return &Message{
		ID:            id,
		Body:          body,
		Attributes:    attrs,
		ReceiptHandle: id + ":" + token,
		ReceiveCount:  int(count),
	}, nil
}

func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	id, token, ok := strings.Cut(receiptHandle, ":")
	if !ok {
		return fmt.Errorf("malformed receipt handle %q", receiptHandle)
	}

	keys := []string{q.visibilityKey(), q.messagePrefix() + id}
	deleted, err := deleteScript.Run(ctx, q.client, keys, id, token).Int()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.name, err)
	}
	if deleted == 0 {
		return ErrReceiptExpired
	}
	return nil
}

var _ Queue = (*RedisQueue)(nil)
