package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lifecycle event kinds produced by the marketplace.
const (
	KindSkillPublished = "skill.published"
	KindSkillApproved  = "skill.review.approved"
	KindSkillRejected  = "skill.review.rejected"
	KindSkillUpdated   = "skill.updated"
)

// Event is one skill lifecycle state change.
type Event struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus queues lifecycle events through a Redis Stream so producers never
// block on delivery.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

const eventStream = "skillbridge:events"

// NewBus connects to Redis and returns an event bus.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected")
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish enqueues an event. Fire-and-forget from the producer's
// perspective; delivery happens asynchronously.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Kind, err)
	}

	b.logger.Debug("event enqueued",
		zap.String("id", ev.ID),
		zap.String("kind", ev.Kind),
		zap.String("owner", ev.OwnerID))
	return nil
}

// Subscribe reads events from the stream. Returns a channel that emits
// events published after the subscription starts. Cancel the context to
// stop.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{eventStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
