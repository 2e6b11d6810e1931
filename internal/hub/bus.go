package hub

import (
	"context"
	"sync"
)

// Bus carries room envelopes to every hub instance, including the sender.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(handler func(Envelope))
	Close() error
}

// LocalBus delivers synchronously inside one process.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(Envelope)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	handlers := append([]func(Envelope){}, b.handlers...)
	b.mu.RUnlock()
	for _, handle := range handlers {
		handle(env)
	}
	return nil
}

func (b *LocalBus) Subscribe(handler func(Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *LocalBus) Close() error {
	return nil
}
