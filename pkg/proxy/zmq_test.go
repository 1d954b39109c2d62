// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	perrors "github.com/absmach/fproxy/pkg/errors"
	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZMQForward(t *testing.T) {
	cases := []struct {
		desc    string
		forward bool
	}{
		{desc: "subscribe to all topics", forward: false},
		{desc: "forward subscriptions", forward: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := testConfig()
			cfg.InboundAddress = "tcp://127.0.0.1:0"
			cfg.OutboundAddress = "tcp://127.0.0.1:0"
			cfg.ForwardSubscriptions = tc.forward

			p, err := NewZMQ(cfg, nil)
			require.NoError(t, err)
			defer p.Close()
			require.NoError(t, p.Start())
			defer p.Stop()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Both peers connect after the proxy was built and nothing
			// subscribes on the inbound side by hand.
			sub := zmq4.NewSub(ctx)
			defer sub.Close()
			require.NoError(t, sub.Dial(fmt.Sprintf("tcp://%s", p.out.Addr())))
			require.NoError(t, sub.SetOption(zmq4.OptionSubscribe, "weather"))

			pub := zmq4.NewPub(ctx)
			defer pub.Close()
			require.NoError(t, pub.Dial(fmt.Sprintf("tcp://%s", p.in.Addr())))

			received := make(chan zmq4.Msg, 1)
			go func() {
				msg, err := sub.Recv()
				if err == nil {
					received <- msg
				}
			}()

			// Connections and subscriptions propagate asynchronously; publish
			// until the subscriber sees the message.
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			deadline := time.After(5 * time.Second)
			for {
				require.NoError(t, pub.SendMulti(zmq4.NewMsgFrom([]byte("news"), []byte("ignored"))))
				require.NoError(t, pub.SendMulti(zmq4.NewMsgFrom([]byte("weather"), []byte("sunny"))))

				select {
				case msg := <-received:
					require.Len(t, msg.Frames, 2)
					assert.Equal(t, "weather", string(msg.Frames[0]))
					assert.Equal(t, "sunny", string(msg.Frames[1]))
					return
				case <-ticker.C:
				case <-deadline:
					t.Fatal("subscriber did not receive the forwarded message")
				}
			}
		})
	}
}

func TestZMQListenReturnsAfterCancel(t *testing.T) {
	cfg := testConfig()
	cfg.InboundAddress = "tcp://127.0.0.1:0"
	cfg.OutboundAddress = "tcp://127.0.0.1:0"

	p, err := NewZMQ(cfg, nil)
	require.NoError(t, err)

	// A connected subscriber must not keep the outbound endpoint open.
	sub := zmq4.NewSub(context.Background())
	defer sub.Close()
	require.NoError(t, sub.Dial(fmt.Sprintf("tcp://%s", p.out.Addr())))
	require.NoError(t, sub.SetOption(zmq4.OptionSubscribe, ""))

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- p.Listen(ctx)
	}()

	require.Eventually(t, func() bool {
		return p.State() == StateRunning
	}, waitFor, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	assert.Equal(t, StateStopped, p.State())
}

func TestNewZMQBindError(t *testing.T) {
	first, err := NewZMQ(Config{
		InboundAddress:  "tcp://127.0.0.1:0",
		OutboundAddress: "tcp://127.0.0.1:0",
		Logger:          discard,
	}, nil)
	require.NoError(t, err)
	defer first.Close()

	taken := fmt.Sprintf("tcp://%s", first.in.Addr())

	cases := []struct {
		desc     string
		inbound  string
		outbound string
		endpoint string
	}{
		{desc: "inbound address in use", inbound: taken, outbound: "tcp://127.0.0.1:0", endpoint: "inbound"},
		{desc: "outbound address in use", inbound: "tcp://127.0.0.1:0", outbound: taken, endpoint: "outbound"},
		{desc: "invalid inbound address", inbound: "nope://what", outbound: "tcp://127.0.0.1:0", endpoint: "inbound"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := NewZMQ(Config{
				InboundAddress:  tc.inbound,
				OutboundAddress: tc.outbound,
				Logger:          discard,
			}, nil)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, perrors.ErrBind)

			var bindErr *perrors.BindError
			require.True(t, errors.As(err, &bindErr))
			assert.Equal(t, tc.endpoint, bindErr.Endpoint)
		})
	}
}
