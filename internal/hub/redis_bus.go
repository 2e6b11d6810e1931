package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"mscolab/api/internal/logging"
)

const defaultChannelPrefix = "mscolab:room:"

// RedisBus fans room envelopes out over Redis pub/sub, one channel per
// operation. Every instance pattern-subscribes to all room channels.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger logging.Logger

	mu       sync.RWMutex
	handlers []func(Envelope)

	pubsub *redis.PubSub
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewRedisBus(ctx context.Context, client *redis.Client, prefix string, logger logging.Logger) (*RedisBus, error) {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	b := &RedisBus{
		client: client,
		prefix: prefix,
		logger: logging.OrNop(logger),
		done:   make(chan struct{}),
	}
	b.pubsub = client.PSubscribe(ctx, prefix+"*")
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("subscribe room channels: %w", err)
	}
	b.wg.Add(1)
	go b.loop()
	return b, nil
}

func (b *RedisBus) channel(opID int64) string {
	return b.prefix + strconv.FormatInt(opID, 10)
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(env.OpID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel(env.OpID), err)
	}
	return nil
}

func (b *RedisBus) Subscribe(handler func(Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *RedisBus) loop() {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed envelope", "channel", msg.Channel, "error", err)
				continue
			}
			b.mu.RLock()
			handlers := append([]func(Envelope){}, b.handlers...)
			b.mu.RUnlock()
			for _, handle := range handlers {
				handle(env)
			}
		}
	}
}

func (b *RedisBus) Close() error {
	close(b.done)
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
