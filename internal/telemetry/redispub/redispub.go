// Package redispub mirrors node telemetry into Redis: every event is
// published on a pub/sub channel and the latest event of each type is kept
// in a hash for late readers.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/telemetry"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 500 * time.Millisecond
)

// Publisher queues events and writes them to Redis from a single worker so
// the control loop never waits on the network.
type Publisher struct {
	client   *redis.Client
	channel  string
	stateKey string
	timeout  time.Duration
	log      *slog.Logger

	queue     chan telemetry.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
	mu      sync.Mutex
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithQueueSize sets the number of events buffered ahead of the worker.
func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan telemetry.Event, n)
		}
	}
}

// WithWriteTimeout bounds each Redis round trip.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Dial connects to the server described by cfg and verifies it with PING.
func Dial(ctx context.Context, cfg config.RedisConfig, log *slog.Logger, opts ...Option) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}
	return NewFromClient(client, cfg, log, opts...), nil
}

// NewFromClient starts a publisher on an existing client.
func NewFromClient(client *redis.Client, cfg config.RedisConfig, log *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		client:   client,
		channel:  cfg.Channel,
		stateKey: cfg.StateKey,
		timeout:  defaultWriteTimeout,
		log:      log,
		queue:    make(chan telemetry.Event, defaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues event. When the queue is full the event is dropped.
func (p *Publisher) Publish(event telemetry.Event) error {
	select {
	case <-p.done:
		return fmt.Errorf("redis publisher closed")
	default:
	}

	select {
	case p.queue <- event:
		return nil
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return fmt.Errorf("redis publisher queue full, dropped %s event", event.Type)
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.queue:
			p.write(event)
		case <-p.done:
			// Drain what is already queued.
			for {
				select {
				case event := <-p.queue:
					p.write(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) write(event telemetry.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("Redis telemetry marshal failed", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		if p.stateKey != "" {
			pipe.HSet(ctx, p.stateKey, event.Type, payload)
		}
		return nil
	})
	if err != nil {
		p.log.Warn("Redis telemetry write failed", "type", event.Type, "error", err)
	}
}

// Close flushes queued events and closes the client.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.client.Close()
	})
	return err
}
