// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/fproxy/pkg/hook"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func startAuditor(t *testing.T, a *Auditor) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()
	t.Cleanup(func() {
		a.Close()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after Close")
		}
	})
}

func TestAuditorWritesStream(t *testing.T) {
	_, client := newClient(t)
	a := New(client, Config{Stream: "audit", Logger: discard})
	startAuditor(t, a)

	hctx := &hook.Context{ProxyID: "p1", Sequence: 3, ReceivedAt: time.Now()}
	payload := []byte("sunny")
	require.NoError(t, a.Intercept(context.Background(), hctx, []byte("weather"), payload))
	// The auditor must not depend on the caller's buffer after return.
	copy(payload, "xxxxx")

	require.Eventually(t, func() bool { return a.Written() == 1 }, 2*time.Second, 5*time.Millisecond)

	entries, err := client.XRange(context.Background(), "audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "weather", entries[0].Values["topic"])
	assert.Equal(t, "sunny", entries[0].Values["payload"])
	assert.Equal(t, "3", entries[0].Values["seq"])
	assert.Equal(t, "p1", entries[0].Values["proxy"])
}

func TestAuditorTrimsStream(t *testing.T) {
	_, client := newClient(t)
	a := New(client, Config{Stream: "audit", MaxLen: 2, Logger: discard})
	startAuditor(t, a)

	hctx := &hook.Context{ProxyID: "p1"}
	for i := 0; i < 5; i++ {
		hctx.Sequence = uint64(i + 1)
		require.NoError(t, a.Intercept(context.Background(), hctx, []byte("t"), []byte(fmt.Sprint(i))))
	}
	require.Eventually(t, func() bool { return a.Written() == 5 }, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, a.Failed())

	// Trimming is approximate; the stream never keeps more than was written.
	n, err := client.XLen(context.Background(), "audit").Result()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
	assert.LessOrEqual(t, n, int64(5))
}

func TestAuditorQueueFull(t *testing.T) {
	_, client := newClient(t)
	a := New(client, Config{Buffer: 1, Logger: discard})

	hctx := &hook.Context{ProxyID: "p1"}
	require.NoError(t, a.Intercept(context.Background(), hctx, []byte("t"), []byte("1")))
	assert.ErrorIs(t, a.Intercept(context.Background(), hctx, []byte("t"), []byte("2")), ErrQueueFull)
}

func TestAuditorFlushesOnClose(t *testing.T) {
	_, client := newClient(t)
	a := New(client, Config{Stream: "audit", Logger: discard})

	hctx := &hook.Context{ProxyID: "p1"}
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Intercept(context.Background(), hctx, []byte("t"), []byte("p")))
	}
	a.Close()
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, uint64(3), a.Written())
}

func TestAuditorRedisDown(t *testing.T) {
	mr, client := newClient(t)
	a := New(client, Config{Stream: "audit", Logger: discard})
	mr.Close()

	require.NoError(t, a.Intercept(context.Background(), &hook.Context{}, []byte("t"), []byte("p")))
	a.Close()
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, uint64(1), a.Failed())
	assert.Zero(t, a.Written())
}
