// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"context"
	"errors"
	"time"
)

// Context contains metadata about the message being forwarded.
// It is passed to Hook implementations alongside the frames.
type Context struct {
	// ProxyID is a unique identifier of the proxy instance
	ProxyID string

	// Inbound is the address publishers connect to
	Inbound string

	// Outbound is the address subscribers connect to
	Outbound string

	// Sequence is the 1-based number of the message on this proxy
	Sequence uint64

	// ReceivedAt is the time the message was taken from the inbound endpoint
	ReceivedAt time.Time
}

// Hook observes every message the proxy forwards.
//
// Intercept is called exactly once per received message, before the message
// is sent to subscribers. topic and payload are the frames that will be
// forwarded:
// - they must not be modified
// - they must not be retained after Intercept returns (copy them instead)
//
// Intercept runs on the forward loop goroutine, so it should return quickly.
// The context carries a deadline the proxy expects the hook to honor.
// A returned error or panic is logged and counted; it never stops the
// message from being forwarded.
type Hook interface {
	Intercept(ctx context.Context, hctx *Context, topic, payload []byte) error
}

// Func adapts an ordinary function to the Hook interface.
type Func func(ctx context.Context, hctx *Context, topic, payload []byte) error

var _ Hook = Func(nil)

// Intercept calls f.
func (f Func) Intercept(ctx context.Context, hctx *Context, topic, payload []byte) error {
	return f(ctx, hctx, topic, payload)
}

// Noop is a Hook implementation that observes nothing.
// Useful for testing or when no interception is needed.
type Noop struct{}

var _ Hook = (*Noop)(nil)

func (h *Noop) Intercept(ctx context.Context, hctx *Context, topic, payload []byte) error {
	return nil
}

// Chain calls each hook in order with the same frames. Every hook is called
// even if an earlier one fails; the errors are joined.
func Chain(hooks ...Hook) Hook {
	return chain(hooks)
}

type chain []Hook

func (c chain) Intercept(ctx context.Context, hctx *Context, topic, payload []byte) error {
	var errs []error
	for _, h := range c {
		if h == nil {
			continue
		}
		if err := h.Intercept(ctx, hctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
