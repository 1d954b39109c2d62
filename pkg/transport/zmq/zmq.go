// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package zmq

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	perrors "github.com/absmach/fproxy/pkg/errors"
	"github.com/absmach/fproxy/pkg/message"
	"github.com/absmach/fproxy/pkg/transport"
	"github.com/go-zeromq/zmq4"
)

const (
	defaultReceiveTimeout = time.Second
	defaultSendTimeout    = 5 * time.Second
	defaultBuffer         = 1024

	subscribeFlag   = 1
	unsubscribeFlag = 0
)

var (
	_ transport.Inbound  = (*Inbound)(nil)
	_ transport.Outbound = (*Outbound)(nil)
)

// Config holds the configuration of a ZeroMQ endpoint.
type Config struct {
	// Address is the bind specification, e.g. tcp://*:5555
	Address string

	// ReceiveTimeout bounds a single Inbound.Recv call. It is also the
	// interval at which the inbound resends its subscriptions.
	ReceiveTimeout time.Duration

	// SendTimeout bounds a single Outbound.Send call and a single socket write
	SendTimeout time.Duration

	// Buffer is the number of complete messages queued between the socket
	// and the forward loop, in either direction
	Buffer int

	// SubscribeAll makes the inbound XSUB socket subscribe to every topic so
	// publishers send everything and filtering happens at the outbound side
	SubscribeAll bool

	// Topics, when set, lists the topic prefixes the inbound subscribes to.
	// Prefixes that disappear from the list are unsubscribed.
	Topics func() []string

	// Logger for endpoint events
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaultReceiveTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
}

func socketOptions(cfg Config) []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithTimeout(cfg.SendTimeout),
		zmq4.WithLogger(slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelDebug)),
	}
}

// Inbound is an XSUB endpoint publishers connect to.
type Inbound struct {
	sck     zmq4.Socket
	cancel  context.CancelFunc
	timeout time.Duration
	all     bool
	topics  func() []string
	units   chan [][]byte
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewInbound binds an XSUB socket on cfg.Address.
// It returns an *errors.BindError if the address cannot be bound.
func NewInbound(cfg Config) (*Inbound, error) {
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	sck := zmq4.NewXSub(ctx, socketOptions(cfg)...)
	if err := sck.Listen(cfg.Address); err != nil {
		cancel()
		sck.Close()
		return nil, perrors.NewBindError(transport.InboundName, cfg.Address, err)
	}

	in := &Inbound{
		sck:     sck,
		cancel:  cancel,
		timeout: cfg.ReceiveTimeout,
		all:     cfg.SubscribeAll,
		topics:  cfg.Topics,
		units:   make(chan [][]byte, cfg.Buffer),
		done:    make(chan struct{}),
		logger:  cfg.Logger,
	}

	in.wg.Add(1)
	go in.read()
	if in.all || in.topics != nil {
		in.wg.Add(1)
		go in.subscribe()
	}

	in.logger.Info("inbound endpoint bound", slog.String("address", in.Addr().String()))
	return in, nil
}

// read moves complete multipart messages from the socket to the queue. zmq4
// only hands out a message once all of its frames have arrived.
func (in *Inbound) read() {
	defer in.wg.Done()
	defer close(in.units)

	for {
		msg, err := in.sck.Recv()
		select {
		case <-in.done:
			return
		default:
		}
		if err != nil {
			// A publisher going away surfaces here; the socket stays usable.
			in.logger.Warn("inbound receive failed", slog.String("error", err.Error()))
			continue
		}

		select {
		case in.units <- msg.Frames:
		case <-in.done:
			return
		}
	}
}

// subscribe sends the subscription frames upstream once at start and then on
// every receive timeout tick. zmq4 does not replay XSUB subscriptions to
// publishers that connect later, so they are resent periodically.
func (in *Inbound) subscribe() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.timeout)
	defer ticker.Stop()

	sent := map[string]struct{}{}
	for {
		sent = in.refresh(sent)
		select {
		case <-in.done:
			return
		case <-ticker.C:
		}
	}
}

// refresh subscribes to the wanted prefixes and unsubscribes those in prev
// that are no longer wanted. It returns the wanted set.
func (in *Inbound) refresh(prev map[string]struct{}) map[string]struct{} {
	want := map[string]struct{}{}
	if in.all {
		want[""] = struct{}{}
	}
	if in.topics != nil {
		for _, t := range in.topics() {
			want[t] = struct{}{}
		}
	}

	for t := range prev {
		if _, ok := want[t]; ok {
			continue
		}
		if err := in.Subscribe(UnsubscribeFrame(t)); err != nil {
			in.logger.Debug("failed to unsubscribe", slog.String("topic", t), slog.String("error", err.Error()))
		}
	}
	for t := range want {
		if err := in.Subscribe(SubscribeFrame(t)); err != nil {
			in.logger.Debug("failed to subscribe", slog.String("topic", t), slog.String("error", err.Error()))
		}
	}
	return want
}

// Recv waits up to the receive timeout for the next message.
func (in *Inbound) Recv() (message.Message, error) {
	timer := time.NewTimer(in.timeout)
	defer timer.Stop()

	select {
	case frames, ok := <-in.units:
		if !ok {
			return message.Message{}, perrors.ErrConnectionClosed
		}
		return message.FromFrames(frames)
	case <-timer.C:
		return message.Message{}, perrors.ErrReceiveTimeout
	}
}

// Subscribe sends a raw subscription frame (flag byte followed by the topic
// prefix) to the connected publishers. With no publisher connected it waits
// up to the send timeout.
func (in *Inbound) Subscribe(frame []byte) error {
	if err := in.sck.Send(zmq4.NewMsg(frame)); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	return nil
}

// Addr returns the bound address.
func (in *Inbound) Addr() net.Addr {
	return in.sck.Addr()
}

// Close closes the socket and waits for the background goroutines to exit.
func (in *Inbound) Close() error {
	var err error
	in.once.Do(func() {
		close(in.done)
		err = perrors.Wrap(in.sck.Close(), "close inbound")
		in.cancel()
		in.wg.Wait()
	})
	return err
}

// Outbound is an XPUB endpoint subscribers connect to.
//
// Send hands messages to a bounded queue drained by a single writer.
type Outbound struct {
	sck     zmq4.Socket
	cancel  context.CancelFunc
	write   func(message.Message) error
	queue   chan message.Message
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewOutbound binds an XPUB socket on cfg.Address.
// It returns an *errors.BindError if the address cannot be bound.
func NewOutbound(cfg Config) (*Outbound, error) {
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	sck := zmq4.NewXPub(ctx, socketOptions(cfg)...)
	if err := sck.Listen(cfg.Address); err != nil {
		cancel()
		sck.Close()
		return nil, perrors.NewBindError(transport.OutboundName, cfg.Address, err)
	}

	out := newOutbound(cfg, func(msg message.Message) error {
		return sck.SendMulti(zmq4.NewMsgFrom(msg.Topic, msg.Payload))
	})
	out.sck = sck
	out.cancel = cancel

	out.logger.Info("outbound endpoint bound", slog.String("address", out.Addr().String()))
	return out, nil
}

// newOutbound starts the writer draining the queue into write.
func newOutbound(cfg Config, write func(message.Message) error) *Outbound {
	out := &Outbound{
		write:   write,
		queue:   make(chan message.Message, cfg.Buffer),
		timeout: cfg.SendTimeout,
		done:    make(chan struct{}),
		logger:  cfg.Logger,
	}

	out.wg.Add(1)
	go out.publish()
	return out
}

func (out *Outbound) publish() {
	defer out.wg.Done()

	for {
		select {
		case <-out.done:
			return
		case msg := <-out.queue:
			if err := out.write(msg); err != nil {
				out.logger.Warn("outbound publish failed",
					slog.String("topic", string(msg.Topic)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Send queues the topic and payload frames for publishing as one multipart
// message. It waits at most the send timeout for room in the queue and then
// fails with errors.ErrSendFailure wrapping errors.ErrTimeout.
func (out *Outbound) Send(msg message.Message) error {
	select {
	case <-out.done:
		return perrors.ErrConnectionClosed
	default:
	}

	select {
	case out.queue <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(out.timeout)
	defer timer.Stop()

	select {
	case <-out.done:
		return perrors.ErrConnectionClosed
	case out.queue <- msg:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: outbound queue full: %w", perrors.ErrSendFailure, perrors.ErrTimeout)
	}
}

// Topics returns the topic prefixes the connected subscribers asked for.
func (out *Outbound) Topics() []string {
	t, ok := out.sck.(zmq4.Topics)
	if !ok {
		return nil
	}
	return t.Topics()
}

// Addr returns the bound address.
func (out *Outbound) Addr() net.Addr {
	if out.sck == nil {
		return nil
	}
	return out.sck.Addr()
}

// Close stops the writer and closes the socket. Queued messages that were
// not yet written are discarded.
func (out *Outbound) Close() error {
	var err error
	out.once.Do(func() {
		close(out.done)
		if out.sck != nil {
			err = perrors.Wrap(out.sck.Close(), "close outbound")
			out.cancel()
		}
		out.wg.Wait()
	})
	return err
}

// SubscribeFrame builds the raw subscription frame for topic.
func SubscribeFrame(topic string) []byte {
	return append([]byte{subscribeFlag}, topic...)
}

// UnsubscribeFrame builds the raw unsubscription frame for topic.
func UnsubscribeFrame(topic string) []byte {
	return append([]byte{unsubscribeFlag}, topic...)
}
