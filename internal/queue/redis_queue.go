package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a peek-lock queue over redis. Layout per queue name:
//
//	q:{name}:pending    list of message ids awaiting delivery
//	q:{name}:messages   hash id -> stored message (body, delivery count)
//	q:{name}:inflight   zset id -> redelivery deadline (unix seconds)
//	q:{name}:locks      hash lock token -> id
//	q:{name}:dead       list of dead-lettered messages
//
// Receive first requeues every in-flight entry whose deadline has passed, so
// abandoned messages flow back to pending without a separate janitor.
type RedisQueue struct {
	client     redis.Cmdable
	name       string
	redelivery time.Duration
}

type storedMessage struct {
	ID            string `json:"id"`
	Body          []byte `json:"body"`
	DeliveryCount int    `json:"delivery_count"`
}

type deadLetteredMessage struct {
	ID          string    `json:"id"`
	Body        []byte    `json:"body"`
	Reason      string    `json:"reason"`
	Description string    `json:"description"`
	DeadAt      time.Time `json:"dead_at"`
}

// NewRedisQueue builds a queue handle for one named queue.
func NewRedisQueue(client redis.Cmdable, name string, redelivery time.Duration) *RedisQueue {
	if redelivery <= 0 {
		redelivery = 5 * time.Minute
	}
	return &RedisQueue{client: client, name: name, redelivery: redelivery}
}

// Send enqueues the message. A message id already known to the queue is
// silently dropped, which deduplicates retried sends.
func (q *RedisQueue) Send(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	stored, err := json.Marshal(storedMessage{ID: msg.ID, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	added, err := q.client.HSetNX(ctx, q.key("messages"), msg.ID, stored).Result()
	if err != nil {
		return fmt.Errorf("store message %s on %s: %w", msg.ID, q.name, err)
	}
	if !added {
		return nil
	}
	if err := q.client.RPush(ctx, q.key("pending"), msg.ID).Err(); err != nil {
		return fmt.Errorf("enqueue message %s on %s: %w", msg.ID, q.name, err)
	}
	return nil
}

// Receive returns the next message under a fresh lock token, or nil when the
// queue is empty.
func (q *RedisQueue) Receive(ctx context.Context) (*ReceivedMessage, error) {
	if err := q.requeueExpired(ctx); err != nil {
		return nil, err
	}

	id, err := q.client.LPop(ctx, q.key("pending")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", q.name, err)
	}

	raw, err := q.client.HGet(ctx, q.key("messages"), id).Result()
	if errors.Is(err, redis.Nil) {
		// Message was completed or dead-lettered while its id lingered in
		// pending after a redelivery race; skip it.
		return q.Receive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load message %s from %s: %w", id, q.name, err)
	}

	var stored storedMessage
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode message %s from %s: %w", id, q.name, err)
	}
	stored.DeliveryCount++
	updated, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", id, err)
	}

	token := uuid.NewString()
	deadline := float64(time.Now().Add(q.redelivery).Unix())
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key("messages"), id, updated)
	pipe.ZAdd(ctx, q.key("inflight"), redis.Z{Score: deadline, Member: id})
	pipe.HSet(ctx, q.key("locks"), token, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("lock message %s on %s: %w", id, q.name, err)
	}

	return &ReceivedMessage{
		Message:       Message{ID: stored.ID, Body: stored.Body},
		LockToken:     token,
		DeliveryCount: stored.DeliveryCount,
	}, nil
}

// Complete removes the message identified by the lock token.
func (q *RedisQueue) Complete(ctx context.Context, lockToken string) error {
	id, err := q.resolveLock(ctx, lockToken)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.key("messages"), id)
	pipe.ZRem(ctx, q.key("inflight"), id)
	pipe.HDel(ctx, q.key("locks"), lockToken)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete message %s on %s: %w", id, q.name, err)
	}
	return nil
}

// DeadLetter moves the message onto the dead-letter list with a reason.
func (q *RedisQueue) DeadLetter(ctx context.Context, lockToken, reason, description string) error {
	id, err := q.resolveLock(ctx, lockToken)
	if err != nil {
		return err
	}
	raw, err := q.client.HGet(ctx, q.key("messages"), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load message %s from %s: %w", id, q.name, err)
	}

	var stored storedMessage
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return fmt.Errorf("decode message %s from %s: %w", id, q.name, err)
		}
	}
	dead, err := json.Marshal(deadLetteredMessage{
		ID:          id,
		Body:        stored.Body,
		Reason:      reason,
		Description: description,
		DeadAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", id, err)
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.key("dead"), dead)
	pipe.HDel(ctx, q.key("messages"), id)
	pipe.ZRem(ctx, q.key("inflight"), id)
	pipe.HDel(ctx, q.key("locks"), lockToken)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter message %s on %s: %w", id, q.name, err)
	}
	return nil
}

func (q *RedisQueue) resolveLock(ctx context.Context, lockToken string) (string, error) {
	id, err := q.client.HGet(ctx, q.key("locks"), lockToken).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("unknown or expired lock token on %s", q.name)
	}
	if err != nil {
		return "", fmt.Errorf("resolve lock on %s: %w", q.name, err)
	}
	return id, nil
}

func (q *RedisQueue) requeueExpired(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, q.key("inflight"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("scan in-flight on %s: %w", q.name, err)
	}
	for _, id := range expired {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key("inflight"), id)
		pipe.RPush(ctx, q.key("pending"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeue message %s on %s: %w", id, q.name, err)
		}
	}
	return nil
}

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("q:%s:%s", q.name, suffix)
}
