package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	mainKey       = "citewatch:queue:tracking"
	processingKey = "citewatch:queue:tracking:processing"
	delayedKey    = "citewatch:queue:tracking:delayed"

	dequeueBlock = 5 * time.Second
)

// RedisBroker implements Broker on Redis lists plus a sorted set for
// delayed messages: BLMOVE main→processing for delivery, LREM for ack,
// ZADD/ZRANGEBYSCORE for retry backoff.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to the broker at queueURL
// (redis://host:port/db) and verifies it answers.
func NewRedisBroker(ctx context.Context, queueURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(queueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse QUEUE_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach queue broker: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Queue broker connected")
	return &RedisBroker{client: client}, nil
}

// Enqueue pushes a message onto the main queue.
func (b *RedisBroker) Enqueue(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := b.client.LPush(ctx, mainKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// EnqueueDelayed parks a message in the delayed set, scored by its
// ready time.
func (b *RedisBroker) EnqueueDelayed(ctx context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		return b.Enqueue(ctx, msg)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ready := time.Now().Add(delay).UnixMilli()
	if err := b.client.ZAdd(ctx, delayedKey, redis.Z{Score: float64(ready), Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue delayed: %w", err)
	}
	return nil
}

// Dequeue blocks until a message arrives, moving it onto the in-flight
// list in the same operation so a crash between delivery and ack leaves
// it recoverable.
func (b *RedisBroker) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		payload, err := b.client.BLMove(ctx, mainKey, processingKey, "RIGHT", "LEFT", dequeueBlock).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			// Drop the poison message from the in-flight list; it will
			// never parse.
			b.client.LRem(ctx, processingKey, 1, payload)
			log.Error().Err(err).Str("payload", payload).Msg("Discarding unparseable queue message")
			continue
		}

		return &Delivery{
			Message: msg,
			ack: func(ackCtx context.Context) error {
				return b.client.LRem(ackCtx, processingKey, 1, payload).Err()
			},
		}, nil
	}
}

// PromoteDue moves delayed messages whose ready time has passed onto
// the main queue.
func (b *RedisBroker) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := b.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan delayed messages: %w", err)
	}

	promoted := 0
	for _, payload := range due {
		// Only the mover that wins the removal promotes; keeps delivery
		// single even with concurrent movers.
		removed, err := b.client.ZRem(ctx, delayedKey, payload).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove delayed message: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, mainKey, payload).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote message: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Depth reports waiting messages: ready plus delayed.
func (b *RedisBroker) Depth(ctx context.Context) (int64, error) {
	ready, err := b.client.LLen(ctx, mainKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	delayed, err := b.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	return ready + delayed, nil
}

// Ping verifies the broker answers.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
