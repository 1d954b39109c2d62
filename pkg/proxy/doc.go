// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides the topic forwarding proxy.
//
// # Overview
//
// A Proxy owns two bound endpoints and one forward loop:
//
//	publishers ──► inbound (XSUB) ──► hook ──► outbound (XPUB) ──► subscribers
//
// Every (topic, payload) unit received on the inbound endpoint is shown to
// the interception hook and then sent, unchanged and in arrival order, on
// the outbound endpoint. Delivery is at-most-once: a message that cannot be
// sent is logged and dropped, never retried.
//
// # Lifecycle
//
// A proxy moves through Created, Running, Cancelling and Stopped exactly
// once. Cancel only sets a flag; the loop observes it between receives, so
// Join returns within one receive timeout (plus any send and hook in
// progress) after Cancel.
//
//	p, err := proxy.NewZMQ(proxy.Config{
//		InboundAddress:  "tcp://*:5555",
//		OutboundAddress: "tcp://*:5556",
//		Logger:          logger,
//	}, simple.New(logger))
//	if err != nil {
//		return err
//	}
//
//	if err := p.Start(); err != nil {
//		return err
//	}
//	// ...
//	p.Stop()
//	p.Close()
//
// Applications using errgroup can call Listen instead, which runs the proxy
// until the context is cancelled:
//
//	g.Go(func() error {
//		return p.Listen(ctx)
//	})
//
// # Errors
//
// Only construction fails: NewZMQ returns an *errors.BindError when an
// address cannot be bound. Everything that goes wrong inside the loop
// (partial messages, hook failures and panics, send failures) is logged and
// counted in metrics, and the loop keeps running.
package proxy
