// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package fproxy holds the environment configuration of a forwarding proxy
// instance.
package fproxy

import (
	"time"

	"github.com/absmach/fproxy/pkg/proxy"
	"github.com/caarlos0/env/v11"
)

// Config is the environment configuration of one proxy instance. Each
// instance reads its variables under its own prefix, e.g. FPROXY_.
type Config struct {
	Name                 string        `env:"NAME"                  envDefault:"fproxy"`
	InboundAddress       string        `env:"INBOUND_ADDRESS"       envDefault:"tcp://*:5555"`
	OutboundAddress      string        `env:"OUTBOUND_ADDRESS"      envDefault:"tcp://*:5556"`
	ReceiveTimeout       time.Duration `env:"RECEIVE_TIMEOUT"       envDefault:"1s"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT"          envDefault:"5s"`
	HookTimeout          time.Duration `env:"HOOK_TIMEOUT"          envDefault:"100ms"`
	Buffer               int           `env:"BUFFER"                envDefault:"1024"`
	ForwardSubscriptions bool          `env:"FORWARD_SUBSCRIPTIONS" envDefault:"false"`
}

// NewConfig parses the configuration with the given options.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Proxy converts c to a proxy configuration. Logger, metrics and breaker are
// left for the caller.
func (c Config) Proxy() proxy.Config {
	return proxy.Config{
		Name:                 c.Name,
		InboundAddress:       c.InboundAddress,
		OutboundAddress:      c.OutboundAddress,
		ReceiveTimeout:       c.ReceiveTimeout,
		SendTimeout:          c.SendTimeout,
		HookTimeout:          c.HookTimeout,
		Buffer:               c.Buffer,
		ForwardSubscriptions: c.ForwardSubscriptions,
	}
}
