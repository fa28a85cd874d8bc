package sideeffect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps ready tasks in a list and delayed tasks in a sorted set
// scored by due time in unix milliseconds. Tasks survive process restarts.
type RedisQueue struct {
	client  *redis.Client
	ready   string
	delayed string
	// poll bounds each BRPOP so delayed tasks are promoted regularly.
	// go-redis truncates blocking timeouts to whole seconds.
	poll time.Duration
	now  func() time.Time
}

func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	if name == "" {
		name = "sideeffect"
	}
	return &RedisQueue{
		client:  client,
		ready:   name + ":ready",
		delayed: name + ":delayed",
		poll:    time.Second,
		now:     time.Now,
	}
}

func (q *RedisQueue) Push(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.ready, raw).Err(); err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

func (q *RedisQueue) PushDelayed(ctx context.Context, task Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Push(ctx, task)
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	due := q.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: string(raw)}).Err(); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		if _, err := q.promote(ctx); err != nil {
			return Task{}, err
		}
		res, err := q.client.BRPop(ctx, q.poll, q.ready).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("pop task: %w", err)
		}
		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return Task{}, fmt.Errorf("decode task: %w", err)
		}
		return task, nil
	}
}

// promote moves due delayed tasks to the ready list. ZREM decides which
// consumer owns a member when several promote at once.
func (q *RedisQueue) promote(ctx context.Context) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read delayed tasks: %w", err)
	}
	moved := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.delayed, member).Result()
		if err != nil {
			return moved, fmt.Errorf("claim delayed task: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.ready, member).Err(); err != nil {
			return moved, fmt.Errorf("promote delayed task: %w", err)
		}
		moved++
	}
	return moved, nil
}

// Depth returns the number of ready and delayed tasks.
func (q *RedisQueue) Depth(ctx context.Context) (ready, delayed int64, err error) {
	if ready, err = q.client.LLen(ctx, q.ready).Result(); err != nil {
		return 0, 0, err
	}
	if delayed, err = q.client.ZCard(ctx, q.delayed).Result(); err != nil {
		return 0, 0, err
	}
	return ready, delayed, nil
}

// Close is a no-op; the client belongs to the caller.
func (q *RedisQueue) Close() error {
	return nil
}
