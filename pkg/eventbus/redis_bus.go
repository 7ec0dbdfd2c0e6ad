package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Redis Pub/Sub-backed Bus.
type RedisBus struct {
	client        redis.UniversalClient
	channelPrefix string

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBus creates a new Redis-backed bus. Subjects are published on
// channelPrefix+subject.
func NewRedisBus(client redis.UniversalClient, channelPrefix string) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "neuroguard:events:"
	}
	return &RedisBus{
		client:        client,
		channelPrefix: channelPrefix,
		subs:          make(map[*redisSubscription]struct{}),
	}
}

// Publish sends payload on the channel of subject.
func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.client.Publish(ctx, b.channelPrefix+subject, payload).Err()
}

// Subscribe pattern-subscribes to Redis and forwards messages whose subject
// matches pattern.
func (b *RedisBus) Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}
	if buffer <= 0 {
		buffer = 32
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	pubsub := b.client.PSubscribe(ctx, b.channelPrefix+redisGlob(pattern))
	// Wait for the subscription to be confirmed so messages published right
	// after Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("eventbus: redis subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	b.subs[sub] = struct{}{}

	ch := make(chan Message, buffer)
	go b.forward(subCtx, sub, pattern, ch)

	return &Subscription{
		ch: ch,
		closeFn: func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			sub.stop()
		},
	}, nil
}

func (s *redisSubscription) stop() {
	s.cancel()
	<-s.done
}

func (b *RedisBus) forward(ctx context.Context, sub *redisSubscription, pattern string, ch chan Message) {
	defer close(sub.done)
	defer close(ch)
	defer func() {
		_ = sub.pubsub.Close()
	}()

	redisCh := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			subject := strings.TrimPrefix(msg.Channel, b.channelPrefix)
			if !subjectMatches(pattern, subject) {
				continue
			}
			out := Message{Subject: subject, Payload: []byte(msg.Payload), Timestamp: time.Now().UTC()}
			select {
			case ch <- out:
			default:
				// drop the oldest message to make room
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- out:
				default:
				}
			}
		}
	}
}

// Close shuts down all subscriptions and the bus. The client is owned by
// the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// Healthy checks if the Redis connection is alive.
func (b *RedisBus) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}
	return b.client.Ping(ctx).Err() == nil
}

// redisGlob converts a subject pattern into a Redis PSUBSCRIBE glob. The
// glob may over-match; forward re-checks each subject.
func redisGlob(pattern string) string {
	if strings.HasSuffix(pattern, ".>") {
		return strings.TrimSuffix(pattern, ">") + "*"
	}
	return pattern
}
