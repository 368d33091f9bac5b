// Package redisseq allocates receipt numbers from a Redis counter.
//
// INCR is atomic across every server instance sharing the Redis database,
// which lets several API processes issue receipts without contending on a
// database row. Numbers drawn by a creation that later rolls back are not
// returned, so the sequence may have gaps; it never repeats or goes
// backwards.
package redisseq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/warp/fee-ledger/ledger"
)

// DefaultKey is the Redis key holding the last issued receipt number.
const DefaultKey = "fee-ledger:receipt"

// Connect creates and validates a go-redis client connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// Allocator implements ledger.ReceiptAllocator with INCR.
type Allocator struct {
	rdb *redis.Client
	key string
}

var _ ledger.ReceiptAllocator = (*Allocator)(nil)

func New(rdb *redis.Client, key string) *Allocator {
	if key == "" {
		key = DefaultKey
	}
	return &Allocator{rdb: rdb, key: key}
}

// Next returns the next receipt number. Redis failures are transient.
func (a *Allocator) Next(ctx context.Context) (ledger.ReceiptNumber, error) {
	n, err := a.rdb.Incr(ctx, a.key).Result()
	if err != nil {
		return 0, &ledger.TransientError{Op: "allocate receipt number", Err: err}
	}
	return ledger.ReceiptNumber(n), nil
}

// raiseTo sets the counter to ARGV[1] unless it is already at least that high.
var raiseTo = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call("SET", KEYS[1], floor)
	return floor
end
return current
`)

// Seed makes sure the next number is above floor, typically the highest
// receipt already stored. Safe to call from every instance at startup.
func (a *Allocator) Seed(ctx context.Context, floor ledger.ReceiptNumber) (ledger.ReceiptNumber, error) {
	n, err := raiseTo.Run(ctx, a.rdb, []string{a.key}, int64(floor)).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: seed receipt counter: %w", err)
	}
	return ledger.ReceiptNumber(n), nil
}
