package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisBudgetPrefix = "budget/"

// day keys are only read for the current day; keep them a little longer for stats
var redisBudgetTTL = 48 * time.Hour

var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if used + reserved >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'reserved', 1)
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

var commitScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if reserved > 0 then
  redis.call('HINCRBY', KEYS[1], 'reserved', -1)
end
redis.call('HINCRBY', KEYS[1], 'used', 1)
redis.call('EXPIRE', KEYS[1], ARGV[1])
return 1
`)

var releaseScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
if reserved > 0 then
  redis.call('HINCRBY', KEYS[1], 'reserved', -1)
end
return 1
`)

// RedisBudgetStore keeps daily counters in redis so several hosts can share one budget
type RedisBudgetStore struct {
	Client *redis.Client
}

func NewRedisBudgetStore(redisURL string) (*RedisBudgetStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisBudgetStore{Client: rdb}, nil
}

func budgetKeyName(kind Kind, day string) string {
	return fmt.Sprintf("%s%s/%s", redisBudgetPrefix, kind, day)
}

func (s *RedisBudgetStore) Reserve(ctx context.Context, kind Kind, day string, limit int) (bool, error) {
	n, err := reserveScript.Run(ctx, s.Client, []string{budgetKeyName(kind, day)}, limit, int(redisBudgetTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("reserving %s budget for %s: %w", kind, day, err)
	}
	return n == 1, nil
}

func (s *RedisBudgetStore) Commit(ctx context.Context, kind Kind, day string) error {
	if err := commitScript.Run(ctx, s.Client, []string{budgetKeyName(kind, day)}, int(redisBudgetTTL.Seconds())).Err(); err != nil {
		return fmt.Errorf("committing %s budget for %s: %w", kind, day, err)
	}
	return nil
}

func (s *RedisBudgetStore) Release(ctx context.Context, kind Kind, day string) error {
	if err := releaseScript.Run(ctx, s.Client, []string{budgetKeyName(kind, day)}).Err(); err != nil {
		return fmt.Errorf("releasing %s budget for %s: %w", kind, day, err)
	}
	return nil
}

func (s *RedisBudgetStore) Usage(ctx context.Context, kind Kind, day string) (BudgetUsage, error) {
	vals, err := s.Client.HMGet(ctx, budgetKeyName(kind, day), "used", "reserved").Result()
	if err != nil {
		return BudgetUsage{}, fmt.Errorf("reading %s budget for %s: %w", kind, day, err)
	}
	var u BudgetUsage
	u.Used = redisInt(vals[0])
	u.Reserved = redisInt(vals[1])
	return u, nil
}

func (s *RedisBudgetStore) Close() error {
	return s.Client.Close()
}

func redisInt(v any) int {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0
	}
	return n
}
