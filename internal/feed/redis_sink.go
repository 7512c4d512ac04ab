package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/logging"
)

// NewRedisClient connects with short timeouts so a slow broker never stalls
// the station.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// RedisSink republishes hub events as JSON on a Redis pub/sub channel. Append
// hands events to a bounded queue drained by one goroutine; events are
// dropped when the queue is full.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64
	sent    atomic.Uint64
}

// NewRedisSink starts the publishing goroutine.
func NewRedisSink(client redis.UniversalClient, channel string, buffer int, logger *slog.Logger) *RedisSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &RedisSink{
		client:  client,
		channel: channel,
		logger:  logging.NewComponentLogger(logger, "feed-redis"),
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Append queues evt for publishing without blocking.
func (s *RedisSink) Append(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- evt:
	default:
		if s.dropped.Add(1) == 1 {
			logging.WarnWithContext(s.logger, "redis feed queue full; dropping events", "feed_sink_dropped",
				logging.String("channel", s.channel),
				logging.String(logging.FieldImpact, "remote displays miss some updates"),
			)
		}
	}
}

func (s *RedisSink) run() {
	defer close(s.done)
	for evt := range s.queue {
		payload, err := json.Marshal(evt)
		if err != nil {
			s.failed.Add(1)
			s.logger.Debug("encode feed event failed", logging.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.client.Publish(ctx, s.channel, payload).Err()
		cancel()
		if err != nil {
			if s.failed.Add(1) == 1 {
				logging.WarnWithContext(s.logger, "redis feed publish failed", "feed_sink_failed",
					logging.String("channel", s.channel),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check redis.addr and that the broker is reachable"),
				)
			}
			continue
		}
		s.sent.Add(1)
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (s *RedisSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush redis feed: %w", ctx.Err())
	}
}

// Stats reports published, failed and dropped counts.
func (s *RedisSink) Stats() (sent, failed, dropped uint64) {
	return s.sent.Load(), s.failed.Load(), s.dropped.Load()
}

// Subscribe decodes events published by a RedisSink on channel. The returned
// channel closes when ctx ends or the subscription fails.
func Subscribe(ctx context.Context, client redis.UniversalClient, channel string) (<-chan Event, error) {
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
