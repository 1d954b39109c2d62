// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fproxy/pkg/breaker"
	perrors "github.com/absmach/fproxy/pkg/errors"
	"github.com/absmach/fproxy/pkg/hook"
	"github.com/absmach/fproxy/pkg/message"
	"github.com/absmach/fproxy/pkg/metrics"
	"github.com/absmach/fproxy/pkg/transport"
	"github.com/google/uuid"
)

const (
	defaultName           = "fproxy"
	defaultReceiveTimeout = time.Second
	defaultSendTimeout    = 5 * time.Second
	defaultHookTimeout    = 100 * time.Millisecond
)

// State is the lifecycle state of a Proxy.
type State int32

const (
	// StateCreated: endpoints bound, loop not started.
	StateCreated State = iota
	// StateRunning: loop iterating.
	StateRunning
	// StateCancelling: cancellation requested, loop may be mid-iteration.
	StateCancelling
	// StateStopped: loop returned. A stopped proxy cannot be restarted.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the forwarding proxy configuration.
type Config struct {
	// Name labels metrics of this proxy instance
	Name string

	// InboundAddress is the bind specification publishers connect to (e.g. tcp://*:5555)
	InboundAddress string

	// OutboundAddress is the bind specification subscribers connect to (e.g. tcp://*:5556)
	OutboundAddress string

	// ReceiveTimeout bounds each receive so cancellation is noticed at least
	// this often
	ReceiveTimeout time.Duration

	// SendTimeout bounds each outbound send
	SendTimeout time.Duration

	// HookTimeout is the deadline of the context passed to the hook
	HookTimeout time.Duration

	// Buffer is the number of messages each endpoint queues between its socket
	// and the forward loop
	Buffer int

	// ForwardSubscriptions subscribes upstream only to the topic prefixes the
	// outbound subscribers registered instead of to every topic
	ForwardSubscriptions bool

	// Logger for proxy events
	Logger *slog.Logger

	// Metrics is optional Prometheus instrumentation
	Metrics *metrics.Metrics

	// Breaker optionally guards outbound sends
	Breaker *breaker.CircuitBreaker
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaultReceiveTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = defaultHookTimeout
	}
}

// Proxy relays every message from the inbound endpoint to the outbound
// endpoint, in arrival order, calling the hook on each one in between.
//
// A Proxy is single-use: Created → Running → Cancelling → Stopped.
type Proxy struct {
	id       string
	config   Config
	in       transport.Inbound
	out      transport.Outbound
	hook     hook.Hook
	inAddr   string
	outAddr  string
	logger   *slog.Logger
	closeErr error

	cancelled atomic.Bool
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the forward loop goroutine
	seq         uint64
	inboundGone bool
}

// New creates a proxy over two bound endpoints. The proxy owns the endpoints
// from now on and closes them in Close. A nil hook observes nothing.
func New(cfg Config, in transport.Inbound, out transport.Outbound, h hook.Hook) *Proxy {
	cfg.setDefaults()
	if h == nil {
		h = &hook.Noop{}
	}

	id := uuid.NewString()
	p := &Proxy{
		id:      id,
		config:  cfg,
		in:      in,
		out:     out,
		hook:    h,
		inAddr:  addrString(in.Addr()),
		outAddr: addrString(out.Addr()),
		logger:  cfg.Logger.With(slog.String("proxy", id)),
		done:    make(chan struct{}),
	}
	p.setState(StateCreated)

	return p
}

// ID returns the unique identifier of this proxy instance.
func (p *Proxy) ID() string {
	return p.id
}

// State returns the current lifecycle state.
func (p *Proxy) State() State {
	return State(p.state.Load())
}

// Run executes the forward loop on the calling goroutine until cancellation is
// observed. It returns immediately if the proxy was already started or was
// cancelled before starting.
func (p *Proxy) Run() {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		p.logger.Warn("proxy not started", slog.String("state", p.State().String()))
		return
	}
	p.run()
}

// Start runs the forward loop on a new goroutine.
func (p *Proxy) Start() error {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return perrors.ErrAlreadyStarted
	}
	go p.run()
	return nil
}

// Cancel requests the forward loop to stop. It is safe to call any number of
// times from any goroutine. It does not interrupt a receive in progress; the
// loop notices within one receive timeout. A proxy cancelled before it was
// started goes straight to Stopped and never runs.
func (p *Proxy) Cancel() {
	if p.cancelled.Swap(true) {
		return
	}
	switch {
	case p.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)):
		p.observeState(StateStopped)
		close(p.done)
	case p.state.CompareAndSwap(int32(StateRunning), int32(StateCancelling)):
		p.observeState(StateCancelling)
	}
	p.logger.Info("proxy cancellation requested")
}

// Join blocks until the forward loop has returned, or until Cancel stopped a
// proxy that was never started. It returns immediately if the proxy was
// neither started nor cancelled. Call Cancel first for a bounded wait.
func (p *Proxy) Join() {
	if p.State() == StateCreated {
		return
	}
	<-p.done
}

// Stop cancels the forward loop and waits for it to return.
func (p *Proxy) Stop() {
	p.Cancel()
	p.Join()
}

// Close tears down both endpoints. It should be called after Stop.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.Join(p.in.Close(), p.out.Close())
	})
	return p.closeErr
}

// Listen runs the proxy until ctx is cancelled, then stops it and closes the
// endpoints.
func (p *Proxy) Listen(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	p.logger.Info("shutdown signal received, stopping proxy")

	p.Stop()
	return p.Close()
}

func (p *Proxy) run() {
	defer close(p.done)

	p.observeState(p.State())
	p.logger.Info("proxy started",
		slog.String("inbound", p.inAddr),
		slog.String("outbound", p.outAddr))

	for !p.cancelled.Load() {
		p.iterate()
	}

	p.setState(StateStopped)
	p.logger.Info("proxy stopped", slog.Uint64("messages", p.seq))
}

// iterate performs one receive attempt and, if a message arrived, forwards it.
func (p *Proxy) iterate() {
	msg, err := p.in.Recv()
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrReceiveTimeout):
		return
	case errors.Is(err, perrors.ErrPartialMessage):
		p.logger.Warn("dropped partial message",
			slog.String("error", perrors.New("recv", p.id, transport.InboundName, err).Error()))
		p.observe(0, func() string { return metrics.ReasonPartial })
		return
	case errors.Is(err, perrors.ErrConnectionClosed):
		if !p.inboundGone {
			p.inboundGone = true
			p.logger.Error("inbound endpoint closed, waiting for cancellation")
		}
		time.Sleep(p.config.ReceiveTimeout)
		return
	default:
		p.logger.Error("receive failed",
			slog.String("error", perrors.New("recv", p.id, transport.InboundName, err).Error()))
		return
	}

	p.seq++
	p.forward(msg)
}

func (p *Proxy) forward(msg message.Message) {
	hctx := &hook.Context{
		ProxyID:    p.id,
		Inbound:    p.inAddr,
		Outbound:   p.outAddr,
		Sequence:   p.seq,
		ReceivedAt: time.Now(),
	}

	p.observe(msg.Size(), func() string {
		p.intercept(hctx, msg)

		if err := p.send(msg); err != nil {
			reason := metrics.ReasonSend
			if errors.Is(err, breaker.ErrCircuitOpen) {
				reason = metrics.ReasonCircuitOpen
			}
			p.logger.Warn("dropped message",
				slog.String("topic", string(msg.Topic)),
				slog.Uint64("seq", hctx.Sequence),
				slog.String("reason", reason),
				slog.String("error", perrors.New("send", p.id, transport.OutboundName, err).Error()))
			return reason
		}
		return ""
	})
}

// intercept calls the hook. Failures never affect forwarding.
func (p *Proxy) intercept(hctx *hook.Context, msg message.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.HookTimeout)
	defer cancel()

	call := func() error { return p.callHook(ctx, hctx, msg) }
	var err error
	if p.config.Metrics != nil {
		err = p.config.Metrics.ObserveHook(p.config.Name, call)
	} else {
		err = call()
	}

	if err != nil {
		p.logger.Error("interception hook failed",
			slog.String("topic", string(msg.Topic)),
			slog.Uint64("seq", hctx.Sequence),
			slog.String("error", err.Error()))
	}
}

func (p *Proxy) callHook(ctx context.Context, hctx *hook.Context, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", perrors.ErrHookFailure, r)
		}
	}()

	if err := p.hook.Intercept(ctx, hctx, msg.Topic, msg.Payload); err != nil {
		return fmt.Errorf("%w: %w", perrors.ErrHookFailure, err)
	}
	return nil
}

func (p *Proxy) send(msg message.Message) error {
	if p.config.Breaker == nil {
		return p.out.Send(msg)
	}
	return p.config.Breaker.Call(func() error {
		return p.out.Send(msg)
	})
}

func (p *Proxy) observe(size int, f func() string) {
	if p.config.Metrics == nil {
		f()
		return
	}
	p.config.Metrics.ObserveForward(p.config.Name, size, f)
}

func (p *Proxy) setState(s State) {
	p.state.Store(int32(s))
	p.observeState(s)
}

func (p *Proxy) observeState(s State) {
	if p.config.Metrics != nil {
		p.config.Metrics.ProxyState.WithLabelValues(p.config.Name).Set(float64(s))
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
