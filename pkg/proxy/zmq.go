// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"github.com/absmach/fproxy/pkg/hook"
	"github.com/absmach/fproxy/pkg/transport/zmq"
)

// NewZMQ binds a ZeroMQ XPUB socket on cfg.OutboundAddress and an XSUB socket
// on cfg.InboundAddress and returns a proxy relaying between them.
// The inbound subscribes to every topic, or with cfg.ForwardSubscriptions
// only to the prefixes the outbound subscribers registered.
// If either address cannot be bound it returns an *errors.BindError and
// releases anything already bound.
func NewZMQ(cfg Config, h hook.Hook) (*Proxy, error) {
	cfg.setDefaults()

	out, err := zmq.NewOutbound(zmq.Config{
		Address:     cfg.OutboundAddress,
		SendTimeout: cfg.SendTimeout,
		Buffer:      cfg.Buffer,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	inCfg := zmq.Config{
		Address:        cfg.InboundAddress,
		ReceiveTimeout: cfg.ReceiveTimeout,
		SendTimeout:    cfg.SendTimeout,
		Buffer:         cfg.Buffer,
		SubscribeAll:   !cfg.ForwardSubscriptions,
		Logger:         cfg.Logger,
	}
	if cfg.ForwardSubscriptions {
		inCfg.Topics = out.Topics
	}

	in, err := zmq.NewInbound(inCfg)
	if err != nil {
		out.Close()
		return nil, err
	}

	return New(cfg, in, out, h), nil
}
