// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the two endpoints of the forwarding proxy.
//
// # Overview
//
//	┌───────────┐         ┌─────────┐         ┌───────┐         ┌──────────┐         ┌─────────────┐
//	│ Publisher │ ──────→ │ Inbound │ ──────→ │ Proxy │ ──────→ │ Outbound │ ──────→ │ Subscribers │
//	└───────────┘         └─────────┘         └───────┘         └──────────┘         └─────────────┘
//	                                              ↓
//	                                          ┌──────┐
//	                                          │ Hook │
//	                                          └──────┘
//
// The inbound endpoint accepts connections from any number of publishers and
// hands the proxy one complete topic/payload message at a time. The outbound
// endpoint fans every message out to the subscribers whose topic filter
// matches; the proxy itself never filters.
//
// # Implementations
//
//   - zmq: ZeroMQ XSUB/XPUB sockets (github.com/go-zeromq/zmq4)
//   - memory: in-process endpoints for tests and embedding
//
// # Receive Timeout
//
// Inbound.Recv never blocks forever. Returning errors.ErrReceiveTimeout at
// least once per receive timeout is what lets the forward loop notice
// cancellation.
package transport
