// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"testing"
	"time"

	perrors "github.com/absmach/fproxy/pkg/errors"
	"github.com/absmach/fproxy/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundRecv(t *testing.T) {
	in := NewInbound("in", 50*time.Millisecond, 4)
	defer in.Close()

	topic := []byte("weather")
	require.NoError(t, in.Publish(topic, []byte("sunny")))
	topic[0] = 'W'

	msg, err := in.Recv()
	require.NoError(t, err)
	assert.Equal(t, "weather", string(msg.Topic), "Publish must copy frames")
	assert.Equal(t, "sunny", string(msg.Payload))
	assert.Equal(t, "in", in.Addr().String())
	assert.Equal(t, "memory", in.Addr().Network())
}

func TestInboundTimeout(t *testing.T) {
	in := NewInbound("in", 20*time.Millisecond, 0)
	defer in.Close()

	start := time.Now()
	_, err := in.Recv()
	assert.ErrorIs(t, err, perrors.ErrReceiveTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestInboundPartial(t *testing.T) {
	in := NewInbound("in", 50*time.Millisecond, 0)
	defer in.Close()

	require.NoError(t, in.Publish([]byte("weather")))
	_, err := in.Recv()
	assert.ErrorIs(t, err, perrors.ErrPartialMessage)
}

func TestInboundClose(t *testing.T) {
	in := NewInbound("in", time.Second, 0)
	require.NoError(t, in.Close())
	require.NoError(t, in.Close())

	_, err := in.Recv()
	assert.ErrorIs(t, err, perrors.ErrConnectionClosed)
	assert.ErrorIs(t, in.Publish([]byte("t"), []byte("p")), perrors.ErrConnectionClosed)
}

func TestOutboundPrefixFilter(t *testing.T) {
	out := NewOutbound("out", 50*time.Millisecond)
	defer out.Close()

	weather, cancelWeather, err := out.Subscribe("weather", 4)
	require.NoError(t, err)
	defer cancelWeather()

	all, cancelAll, err := out.Subscribe("", 4)
	require.NoError(t, err)
	defer cancelAll()

	require.NoError(t, out.Send(message.New([]byte("weather.eu"), []byte("sunny"))))
	require.NoError(t, out.Send(message.New([]byte("news"), []byte("none"))))

	got := <-weather
	assert.Equal(t, "weather.eu", string(got.Topic))
	select {
	case extra := <-weather:
		t.Fatalf("unexpected message for weather subscriber: %v", extra)
	default:
	}

	assert.Equal(t, "weather.eu", string((<-all).Topic))
	assert.Equal(t, "news", string((<-all).Topic))
}

func TestOutboundFullQueue(t *testing.T) {
	out := NewOutbound("out", 10*time.Millisecond)
	defer out.Close()

	_, cancel, err := out.Subscribe("", 1)
	require.NoError(t, err)
	defer cancel()

	msg := message.New([]byte("t"), []byte("p"))
	require.NoError(t, out.Send(msg))
	err = out.Send(msg)
	assert.ErrorIs(t, err, perrors.ErrSendFailure)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
}

func TestOutboundClose(t *testing.T) {
	out := NewOutbound("out", 10*time.Millisecond)
	ch, _, err := out.Subscribe("", 1)
	require.NoError(t, err)

	require.NoError(t, out.Close())
	_, ok := <-ch
	assert.False(t, ok, "subscriber channel must be closed")

	assert.ErrorIs(t, out.Send(message.New([]byte("t"), nil)), perrors.ErrConnectionClosed)
	_, _, err = out.Subscribe("", 1)
	assert.ErrorIs(t, err, perrors.ErrConnectionClosed)
}
