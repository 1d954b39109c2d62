// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides process-local proxy endpoints.
package memory

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	perrors "github.com/absmach/fproxy/pkg/errors"
	"github.com/absmach/fproxy/pkg/message"
	"github.com/absmach/fproxy/pkg/transport"
)

const defaultBuffer = 64

var (
	_ transport.Inbound  = (*Inbound)(nil)
	_ transport.Outbound = (*Outbound)(nil)
)

// Addr is the address of an in-process endpoint.
type Addr string

// Network implements net.Addr.
func (a Addr) Network() string { return "memory" }

// String implements net.Addr.
func (a Addr) String() string { return string(a) }

// Inbound is an in-process subscribe-side endpoint. Publishers hand it
// complete multipart units through Publish.
type Inbound struct {
	addr    Addr
	timeout time.Duration
	frames  chan [][]byte
	done    chan struct{}
	once    sync.Once
}

// NewInbound creates an inbound endpoint with the given receive timeout and
// queue size. A zero buffer uses the default size.
func NewInbound(name string, timeout time.Duration, buffer int) *Inbound {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Inbound{
		addr:    Addr(name),
		timeout: timeout,
		frames:  make(chan [][]byte, buffer),
		done:    make(chan struct{}),
	}
}

// Publish queues one multipart unit. The frames are copied, so callers may
// reuse them. Publish blocks while the queue is full.
func (in *Inbound) Publish(frames ...[]byte) error {
	unit := make([][]byte, len(frames))
	for i, f := range frames {
		unit[i] = bytes.Clone(f)
	}

	select {
	case <-in.done:
		return perrors.ErrConnectionClosed
	default:
	}

	select {
	case in.frames <- unit:
		return nil
	case <-in.done:
		return perrors.ErrConnectionClosed
	}
}

// Recv waits up to the receive timeout for the next unit.
func (in *Inbound) Recv() (message.Message, error) {
	timer := time.NewTimer(in.timeout)
	defer timer.Stop()

	select {
	case frames := <-in.frames:
		return message.FromFrames(frames)
	case <-in.done:
		return message.Message{}, perrors.ErrConnectionClosed
	case <-timer.C:
		return message.Message{}, perrors.ErrReceiveTimeout
	}
}

// Addr returns the endpoint name.
func (in *Inbound) Addr() net.Addr {
	return in.addr
}

// Close stops the endpoint. Queued units are discarded.
func (in *Inbound) Close() error {
	in.once.Do(func() { close(in.done) })
	return nil
}

// Outbound is an in-process publish-side endpoint with prefix-filtered
// subscriptions.
type Outbound struct {
	addr    Addr
	timeout time.Duration

	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
	closed bool
}

type subscription struct {
	prefix []byte
	ch     chan message.Message
}

// NewOutbound creates an outbound endpoint. Send gives up after timeout when a
// subscriber queue stays full.
func NewOutbound(name string, timeout time.Duration) *Outbound {
	return &Outbound{
		addr:    Addr(name),
		timeout: timeout,
		subs:    make(map[int]*subscription),
	}
}

// Subscribe registers a subscriber receiving every message whose topic starts
// with prefix. An empty prefix matches everything. The returned function
// removes the subscription and closes its channel.
func (o *Outbound) Subscribe(prefix string, buffer int) (<-chan message.Message, func(), error) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, perrors.ErrConnectionClosed
	}

	id := o.nextID
	o.nextID++
	sub := &subscription{prefix: []byte(prefix), ch: make(chan message.Message, buffer)}
	o.subs[id] = sub

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if s, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel, nil
}

// Send delivers a copy of msg to every matching subscriber.
func (o *Outbound) Send(msg message.Message) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return perrors.ErrConnectionClosed
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	for _, sub := range o.subs {
		if !bytes.HasPrefix(msg.Topic, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- msg.Clone():
		case <-timer.C:
			return fmt.Errorf("%w: subscriber queue full: %w", perrors.ErrSendFailure, perrors.ErrTimeout)
		}
	}
	return nil
}

// Addr returns the endpoint name.
func (o *Outbound) Addr() net.Addr {
	return o.addr
}

// Close removes all subscribers and closes their channels.
func (o *Outbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	for id, sub := range o.subs {
		delete(o.subs, id)
		close(sub.ch)
	}
	return nil
}
