// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package zmq implements the proxy endpoints on ZeroMQ XSUB/XPUB sockets.
//
// # Sockets
//
//	┌──────────┐         ┌──────┐   ┌───────┐   ┌──────┐         ┌──────────┐
//	│ PUB/XPUB │ ─ZMTP─→ │ XSUB │ → │ Proxy │ → │ XPUB │ ─ZMTP─→ │ SUB/XSUB │
//	└──────────┘         └──────┘   └───────┘   └──────┘         └──────────┘
//
// The inbound XSUB socket is bound; publishers dial it. The outbound XPUB
// socket is bound; subscribers dial it and send their topic filters.
//
// # Inbound
//
// A reader goroutine receives complete multipart messages from the socket and
// queues them. Recv takes the next one or returns errors.ErrReceiveTimeout
// once the receive timeout elapses. Messages that are not exactly topic and
// payload are reported as errors.ErrPartialMessage.
//
// XSUB subscriptions are frames sent to the publishers. With SubscribeAll the
// inbound subscribes to the empty prefix so publishers send every topic. With
// Topics it subscribes to the listed prefixes instead, typically the ones the
// outbound subscribers asked for. zmq4 does not replay subscriptions to
// publishers that connect later, so a second goroutine resends them on every
// receive timeout tick.
//
// # Outbound
//
// Send puts both frames on a bounded queue and a single writer publishes them
// as one multipart message. Send waits at most the send timeout for room in
// the queue and then fails with errors.ErrSendFailure. zmq4 XPUB writes are
// not flow controlled per subscriber, so the queue is the only bound on
// outbound memory held by the endpoint. Messages still queued at Close are
// discarded. Topics reports the prefixes subscribers registered.
//
// # Example
//
//	out, err := zmq.NewOutbound(zmq.Config{Address: "tcp://*:5556"})
//	if err != nil {
//		return err
//	}
//	in, err := zmq.NewInbound(zmq.Config{Address: "tcp://*:5555", Topics: out.Topics})
package zmq
