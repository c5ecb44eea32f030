// Package redismirror republishes child records on a Redis pub/sub channel so
// that other processes can observe the stream. Nothing is persisted.
package redismirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "mcp:bridge:records"

// Mirror publishes records asynchronously. Publish never blocks the caller;
// records are dropped when the internal queue is full.
type Mirror struct {
	client  redis.UniversalClient
	channel string
	log     *slog.Logger

	queue   chan string
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// Config contains configuration options for the mirror.
type Config struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	// Addr is used only when Client is nil. Defaults to "localhost:6379".
	Addr string
	// Channel defaults to DefaultChannel.
	Channel string
	// Queue is the number of records buffered ahead of Redis. Defaults to 1024.
	Queue int
	Logger *slog.Logger
}

// New creates a Mirror and starts its publishing goroutine.
func New(config Config) *Mirror {
	client := config.Client
	if client == nil {
		addr := config.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	channel := config.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	size := config.Queue
	if size <= 0 {
		size = 1024
	}
	log := config.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Mirror{
		client:  client,
		channel: channel,
		log:     log,
		queue:   make(chan string, size),
		done:    make(chan struct{}),
	}
	go m.loop()
	return m
}

// Ping verifies connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish enqueues record for mirroring.
func (m *Mirror) Publish(record string) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- record:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Subscribe streams mirrored records from the channel until ctx ends. It is
// used by observers in other processes and by tests.
func (m *Mirror) Subscribe(ctx context.Context, fn func(record string)) error {
	ps := m.client.Subscribe(ctx, m.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.channel, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

// Close stops the publishing goroutine and closes the client.
func (m *Mirror) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return m.client.Close()
}

func (m *Mirror) loop() {
	ctx := context.Background()
	for {
		select {
		case <-m.done:
			return
		case rec := <-m.queue:
			if err := m.client.Publish(ctx, m.channel, rec).Err(); err != nil {
				m.log.Warn("mirror.publish.fail", slog.String("channel", m.channel), slog.String("err", err.Error()))
			}
		}
	}
}
