package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "veritas:nonce:"
	valueKeyPrefix  = "veritas:nonce-value:"
)

// putScript inserts a record only when neither its id nor its value exist.
// Returns 0 on insert, 1 for a duplicate id, 2 for a duplicate value.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 2 end
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'expires_at', ARGV[2], 'used', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('SET', KEYS[2], ARGV[4], 'PX', ARGV[3])
return 0
`)

// consumeScript checks and marks a record in one step.
// Returns {0} when missing, otherwise {code, value, expires_at, used} where
// code is 1 expired, 2 already used, 3 consumed now.
var consumeScript = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'value', 'expires_at', 'used')
if not rec[1] then return {0} end
if tonumber(ARGV[1]) > tonumber(rec[2]) then return {1, rec[1], rec[2], rec[3]} end
if rec[3] == '1' then return {2, rec[1], rec[2], rec[3]} end
redis.call('HSET', KEYS[1], 'used', '1')
return {3, rec[1], rec[2], '1'}
`)

// RedisStore keeps nonces in Redis so several relay instances share one
// registry. Keys expire on their own after the retention window.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRetention keeps records for d past their expiry before Redis drops them.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, retention: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// OpenRedis parses url, connects and pings.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record, now time.Time) error {
	keep := rec.ExpiresAt.Sub(now) + s.retention
	if keep <= 0 {
		keep = s.retention
	}
	code, err := putScript.Run(ctx, s.client,
		[]string{recordKeyPrefix + rec.ID, valueKeyPrefix + rec.Value},
		rec.Value, rec.ExpiresAt.UnixMilli(), keep.Milliseconds(), rec.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("insert nonce: %w", err)
	}
	switch code {
	case 0:
		return nil
	case 1:
		return ErrDuplicateID
	default:
		return ErrDuplicateValue
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	vals, err := s.client.HMGet(ctx, recordKeyPrefix+id, "value", "expires_at", "used").Result()
	if err != nil {
		return Record{}, fmt.Errorf("get nonce: %w", err)
	}
	if len(vals) != 3 || vals[0] == nil {
		return Record{}, ErrNotFound
	}
	return recordFromFields(id, vals[0], vals[1], vals[2])
}

func (s *RedisStore) Consume(ctx context.Context, id string, now time.Time) (Record, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{recordKeyPrefix + id}, now.UnixMilli(),
	).Slice()
	if err != nil {
		return Record{}, fmt.Errorf("consume nonce: %w", err)
	}
	if len(res) == 0 {
		return Record{}, errors.New("consume nonce: empty script result")
	}
	code, _ := res[0].(int64)
	if code == 0 || len(res) < 4 {
		return Record{}, ErrNotFound
	}
	rec, err := recordFromFields(id, res[1], res[2], res[3])
	if err != nil {
		return Record{}, err
	}
	switch code {
	case 1:
		return rec, ErrExpired
	case 2:
		return rec, ErrAlreadyUsed
	default:
		return rec, nil
	}
}

// Close is a no-op; the client lifecycle is managed by the caller.
func (s *RedisStore) Close() error { return nil }

func recordFromFields(id string, value, expiresAt, used any) (Record, error) {
	v, _ := value.(string)
	exp, _ := expiresAt.(string)
	u, _ := used.(string)
	ms, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse nonce expiry: %w", err)
	}
	return Record{
		ID:        id,
		Value:     v,
		ExpiresAt: time.UnixMilli(ms),
		Used:      u == "1",
	}, nil
}
