// Package infra provides concrete infrastructure adapters for Redis.
//
// The adapter wraps go-redis v9 and serves two roles: it shares the
// coordinated-drift window between firewall instances (risk.SortedSetClient)
// and it carries decision records on a pub/sub channel (enforce.Publisher).
// When Redis is not configured the firewall keeps everything in memory.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter wraps a go-redis v9 client.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis and verifies the connection.
// Returns the adapter and any connection error (caller decides whether to
// fall back to in-memory).
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return NewGoRedisAdapterFromClient(rdb), nil
}

// NewGoRedisAdapterFromClient wraps an existing client without pinging it.
func NewGoRedisAdapterFromClient(rdb *redis.Client) *GoRedisAdapter {
	return &GoRedisAdapter{rdb: rdb}
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// Ping reports whether Redis is reachable.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

// WindowAppend adds member to the sorted set at key, trims members scored
// strictly below minScore, refreshes the key TTL and returns what is left,
// all inside one MULTI/EXEC.
func (a *GoRedisAdapter) WindowAppend(ctx context.Context, key, member string, score, minScore float64, ttl time.Duration) ([]string, error) {
	var members *redis.StringSliceCmd

	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatFloat(minScore, 'f', -1, 64))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		members = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("window append %s: %w", key, err)
	}
	return members.Val(), nil
}

// Publish sends message on a Redis Pub/Sub channel.
func (a *GoRedisAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	return a.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe registers a handler for messages on a Redis Pub/Sub channel.
// Returns an unsubscribe function.
func (a *GoRedisAdapter) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := a.rdb.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
