// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"net"

	"github.com/absmach/fproxy/pkg/message"
)

// Endpoint names used in logs, metrics and errors.
const (
	InboundName  = "inbound"
	OutboundName = "outbound"
)

// Inbound is the subscribe-side endpoint publishers connect to.
//
// Recv blocks for at most the endpoint's receive timeout. It returns:
//   - a complete two-frame message
//   - errors.ErrReceiveTimeout when nothing arrived in time
//   - errors.ErrPartialMessage (or ErrMalformedMessage) for a unit that is
//     not exactly topic+payload; nothing of it must be forwarded
//   - errors.ErrConnectionClosed once the endpoint is closed
//
// Recv is only ever called from the forward loop goroutine.
type Inbound interface {
	Recv() (message.Message, error)
	Addr() net.Addr
	Close() error
}

// Outbound is the publish-side endpoint subscribers connect to.
//
// Send writes the topic frame flagged "more" followed by the payload frame as
// the final frame. It must not block longer than the endpoint's send
// timeout. Send is only ever called from the forward loop goroutine.
type Outbound interface {
	Send(msg message.Message) error
	Addr() net.Addr
	Close() error
}
