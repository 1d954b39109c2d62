// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message defines the two-frame unit relayed by the proxy.
package message

import (
	"bytes"
	"fmt"

	perrors "github.com/absmach/fproxy/pkg/errors"
)

// Frame indexes within a multipart message.
const (
	TopicFrame   = 0
	PayloadFrame = 1
	NumFrames    = 2
)

// Message is an ordered topic/payload pair. Both frames are opaque bytes and
// always travel together.
type Message struct {
	Topic   []byte
	Payload []byte
}

// New creates a message from a topic and a payload.
func New(topic, payload []byte) Message {
	return Message{Topic: topic, Payload: payload}
}

// FromFrames builds a message from a received multipart unit.
// A lone topic frame is reported as ErrPartialMessage, any other frame count
// different from two as ErrMalformedMessage.
func FromFrames(frames [][]byte) (Message, error) {
	switch len(frames) {
	case NumFrames:
		return Message{Topic: frames[TopicFrame], Payload: frames[PayloadFrame]}, nil
	case 1:
		return Message{}, perrors.ErrPartialMessage
	default:
		return Message{}, fmt.Errorf("%w: got %d frames", perrors.ErrMalformedMessage, len(frames))
	}
}

// Frames returns the wire frames, topic first.
func (m Message) Frames() [][]byte {
	return [][]byte{m.Topic, m.Payload}
}

// Size returns the total number of bytes in both frames.
func (m Message) Size() int {
	return len(m.Topic) + len(m.Payload)
}

// Clone returns a deep copy that does not share memory with m.
func (m Message) Clone() Message {
	return Message{
		Topic:   bytes.Clone(m.Topic),
		Payload: bytes.Clone(m.Payload),
	}
}

// Equal reports whether both frames are byte-identical.
func (m Message) Equal(o Message) bool {
	return bytes.Equal(m.Topic, o.Topic) && bytes.Equal(m.Payload, o.Payload)
}

// String renders the message for diagnostics.
func (m Message) String() string {
	return fmt.Sprintf("[%s] %s", m.Topic, m.Payload)
}
