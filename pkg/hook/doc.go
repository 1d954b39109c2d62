// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package hook provides the interception point between the two proxy endpoints.
//
// # Architecture Overview
//
// The Hook interface lets the embedding application observe traffic without
// being on the delivery path. The forward loop receives a message, calls the
// hook with its topic and payload, then sends the unchanged frames to
// subscribers.
//
// # Data Flow
//
//	Publisher → Inbound → Hook (observes) → Outbound → Subscribers
//
// # Contract
//
//   - Intercept is called exactly once per forwarded message, before the send
//   - The frames are the ones being forwarded; hooks must not modify them
//   - Hooks must not keep references to the frames after returning
//   - Errors and panics are logged and swallowed by the proxy
//   - Hooks should be fast; the context carries the expected deadline
//
// # Context
//
// The Context struct carries per-message metadata:
//   - ProxyID: Unique identifier of the proxy instance
//   - Inbound, Outbound: Endpoint addresses
//   - Sequence: Message number on this proxy
//   - ReceivedAt: Time the message was received
//
// # Implementation
//
// Applications implement Hook for auditing, logging or metrics. Noop observes
// nothing, Func adapts a plain function and Chain combines several hooks.
//
// # Example
//
//	type CountingHook struct {
//		n atomic.Uint64
//	}
//
//	func (h *CountingHook) Intercept(ctx context.Context, hctx *hook.Context, topic, payload []byte) error {
//		h.n.Add(1)
//		return nil
//	}
package hook
