package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/tsrr/internal/pkg/errors"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

// RedisBus is an event bus on Redis Pub/Sub. Topics map to channels.
// Delivery is at-most-once: subscribers that are offline miss events.
type RedisBus struct {
	client *redis.Client
	log    *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	subs     map[string]*redis.PubSub
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisBus connects to the Redis server at url (redis://host:port/db).
func NewRedisBus(url string, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid redis url", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to connect to redis", err)
	}

	return newRedisBus(client, log), nil
}

func newRedisBus(client *redis.Client, log *logger.Logger) *RedisBus {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client:   client,
		log:      log,
		handlers: make(map[string][]Handler),
		subs:     make(map[string]*redis.PubSub),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Publish publishes an event on the topic's channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal event", err)
	}

	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return errors.BusError("failed to publish to redis", err)
	}
	return nil
}

// Subscribe registers a handler. The first handler of a topic opens the
// channel subscription and waits for Redis to confirm it; the round trip
// happens without holding the bus lock.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	if _, ok := b.subs[topic]; ok {
		b.handlers[topic] = append(b.handlers[topic], handler)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(b.ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return errors.BusError("failed to subscribe to redis channel", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		pubsub.Close()
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	if _, ok := b.subs[topic]; ok {
		// Another Subscribe for this topic won the race.
		pubsub.Close()
	} else {
		b.subs[topic] = pubsub
		b.wg.Add(1)
		go b.receive(topic, pubsub)
	}

	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// receive dispatches channel messages until the subscription closes.
func (b *RedisBus) receive(topic string, pubsub *redis.PubSub) {
	defer b.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(topic, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) dispatch(topic string, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		b.log.WithError(err).Warn("failed to unmarshal event from redis", "topic", topic)
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(b.ctx, event); err != nil {
			b.log.WithError(err).Warn("bus handler failed", "topic", topic, "event_id", event.ID)
		}
	}
}

// Close unsubscribes from every channel and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.cancel()
	for topic, pubsub := range subs {
		if err := pubsub.Close(); err != nil {
			b.log.WithError(err).Warn("failed to close redis subscription", "topic", topic)
		}
	}
	b.wg.Wait()

	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()

	return b.client.Close()
}
