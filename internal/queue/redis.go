package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jonathan/knowledge-brain/internal/logger"
	"github.com/jonathan/knowledge-brain/internal/metrics"
)

const payloadField = "payload"

// RedisConfig configures the Redis Streams queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Group is the consumer group shared by every worker process.
	Group string
	// ClaimIdle is how long a delivered message may stay unacknowledged before another consumer reclaims it.
	ClaimIdle time.Duration
	// Block is the longest a read waits for new entries.
	Block         time.Duration
	MaxDeliveries int
}

// RedisQueue implements Queue on Redis Streams with consumer groups.
type RedisQueue struct {
	rdb *goredis.Client
	cfg RedisConfig
	log *logger.Logger
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg RedisConfig, log *logger.Logger) (*RedisQueue, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if cfg.Group == "" {
		cfg.Group = "knowledge-brain"
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	if log == nil {
		log = logger.Nop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisQueue{rdb: rdb, cfg: cfg, log: log.With("service", "RedisQueue")}, nil
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	err := q.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: topic,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		metrics.IncQueueMessage(topic, "publish_failed")
		return fmt.Errorf("redis xadd %s: %w", topic, err)
	}
	metrics.IncQueueMessage(topic, "published")
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, topic, consumer string, handler Handler, opts ...ConsumeOption) error {
	o := buildOptions(opts)
	if err := q.ensureGroup(ctx, topic); err != nil {
		return err
	}
	log := q.log.With("topic", topic, "consumer", consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Entries abandoned by crashed or slow consumers come first.
		claimed, _, err := q.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   topic,
			Group:    q.cfg.Group,
			Consumer: consumer,
			MinIdle:  q.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("xautoclaim failed", "error", err)
		}
		for _, m := range claimed {
			q.deliver(ctx, log, topic, m, handler, o, true)
		}
		if len(claimed) > 0 {
			continue
		}

		streams, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("xreadgroup failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				q.deliver(ctx, log, topic, m, handler, o, false)
			}
		}
	}
}

func (q *RedisQueue) deliver(ctx context.Context, log *logger.Logger, topic string, m goredis.XMessage, handler Handler, o consumeOptions, reclaimed bool) {
	msg := Message{ID: m.ID, Topic: topic, Payload: payloadOf(m), Attempt: 1}
	if reclaimed {
		msg.Attempt = q.deliveryCount(ctx, topic, m.ID)
		metrics.IncQueueMessage(topic, "reclaimed")
	}

	if msg.Attempt > q.cfg.MaxDeliveries {
		if o.onDeadLetter != nil {
			cause := &ExhaustedError{Topic: topic, Deliveries: msg.Attempt - 1}
			if err := o.onDeadLetter(ctx, msg, cause); err != nil {
				log.Warn("dead-letter hook failed, message left pending", "id", m.ID, "error", err)
				metrics.IncQueueMessage(topic, "nacked")
				return
			}
		}
		log.Error("message exceeded max deliveries, dead-lettering", "id", m.ID, "attempt", msg.Attempt)
		_ = q.rdb.XAdd(ctx, &goredis.XAddArgs{Stream: DeadLetterTopic(topic), Values: map[string]any{payloadField: msg.Payload}}).Err()
		q.ack(ctx, log, topic, m.ID)
		metrics.IncQueueMessage(topic, "dead_lettered")
		return
	}

	if err := handler(ctx, msg); err != nil {
		log.Warn("handler failed, message left pending", "id", m.ID, "attempt", msg.Attempt, "error", err)
		metrics.IncQueueMessage(topic, "nacked")
		return
	}
	q.ack(ctx, log, topic, m.ID)
	metrics.IncQueueMessage(topic, "acked")
}

func (q *RedisQueue) ack(ctx context.Context, log *logger.Logger, topic, id string) {
	if err := q.rdb.XAck(ctx, topic, q.cfg.Group, id).Err(); err != nil {
		log.Error("xack failed", "id", id, "error", err)
	}
}

// deliveryCount reads the delivery counter Redis keeps for a pending entry.
func (q *RedisQueue) deliveryCount(ctx context.Context, topic, id string) int {
	pending, err := q.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: topic,
		Group:  q.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 2
	}
	return int(pending[0].RetryCount)
}

func (q *RedisQueue) ensureGroup(ctx context.Context, topic string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, topic, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis create group %s on %s: %w", q.cfg.Group, topic, err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}

func payloadOf(m goredis.XMessage) []byte {
	switch v := m.Values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

// Ping checks the Redis connection; the health endpoint uses it.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
