// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package audit provides an interception hook that records every message
// in a Redis stream.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fproxy/pkg/hook"
	"github.com/redis/go-redis/v9"
)

const (
	defaultStream = "fproxy:messages"
	defaultMaxLen = 10000
	defaultBuffer = 1024

	flushTimeout = 5 * time.Second
)

// ErrQueueFull is returned by Intercept when the writer cannot keep up.
var ErrQueueFull = errors.New("audit queue full")

var _ hook.Hook = (*Auditor)(nil)

// Config configures an Auditor.
type Config struct {
	// Stream is the Redis stream key
	Stream string
	// MaxLen trims the stream to approximately this many entries (MAXLEN ~)
	MaxLen int64
	// Buffer is the number of messages queued ahead of the writer
	Buffer int
	Logger *slog.Logger
}

type entry struct {
	proxy      string
	seq        uint64
	topic      string
	payload    string
	receivedAt time.Time
}

// Auditor queues intercepted messages and writes them to Redis from Run.
type Auditor struct {
	client redis.UniversalClient
	config Config
	queue  chan entry
	done   chan struct{}
	once   sync.Once

	written atomic.Uint64
	failed  atomic.Uint64
}

// New creates an auditor writing through client.
func New(client redis.UniversalClient, cfg Config) *Auditor {
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultMaxLen
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Auditor{
		client: client,
		config: cfg,
		queue:  make(chan entry, cfg.Buffer),
		done:   make(chan struct{}),
	}
}

// Intercept copies the message into the queue. It never waits for Redis.
func (a *Auditor) Intercept(ctx context.Context, hctx *hook.Context, topic, payload []byte) error {
	e := entry{
		proxy:      hctx.ProxyID,
		seq:        hctx.Sequence,
		topic:      string(topic),
		payload:    string(payload),
		receivedAt: hctx.ReceivedAt,
	}

	select {
	case a.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run writes queued messages until ctx is done or Close is called, then
// flushes whatever is still queued.
func (a *Auditor) Run(ctx context.Context) error {
	for {
		select {
		case e := <-a.queue:
			a.write(ctx, e)
		case <-ctx.Done():
			a.flush()
			return nil
		case <-a.done:
			a.flush()
			return nil
		}
	}
}

// Close stops Run.
func (a *Auditor) Close() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

// Written returns the number of entries added to the stream.
func (a *Auditor) Written() uint64 {
	return a.written.Load()
}

// Failed returns the number of entries Redis rejected.
func (a *Auditor) Failed() uint64 {
	return a.failed.Load()
}

func (a *Auditor) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case e := <-a.queue:
			a.write(ctx, e)
		default:
			return
		}
	}
}

func (a *Auditor) write(ctx context.Context, e entry) {
	err := a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.config.Stream,
		MaxLen: a.config.MaxLen,
		Approx: true,
		Values: map[string]any{
			"proxy":       e.proxy,
			"seq":         strconv.FormatUint(e.seq, 10),
			"topic":       e.topic,
			"payload":     e.payload,
			"received_at": e.receivedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		a.failed.Add(1)
		a.config.Logger.Warn("failed to write audit entry",
			slog.String("stream", a.config.Stream),
			slog.String("topic", e.topic),
			slog.String("error", err.Error()))
		return
	}
	a.written.Add(1)
}
