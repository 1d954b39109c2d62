// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNoopHook(t *testing.T) {
	h := &Noop{}
	hctx := &Context{
		ProxyID:    "test-proxy",
		Inbound:    "tcp://127.0.0.1:5555",
		Outbound:   "tcp://127.0.0.1:5556",
		Sequence:   1,
		ReceivedAt: time.Now(),
	}

	if err := h.Intercept(context.Background(), hctx, []byte("weather"), []byte("sunny")); err != nil {
		t.Errorf("Intercept() returned error: %v", err)
	}
}

// MockHook is a mock implementation for testing.
type MockHook struct {
	Err error

	Calls       int
	LastTopic   string
	LastPayload []byte
	LastSeq     uint64
}

func (m *MockHook) Intercept(ctx context.Context, hctx *Context, topic, payload []byte) error {
	m.Calls++
	m.LastTopic = string(topic)
	m.LastPayload = append([]byte(nil), payload...)
	m.LastSeq = hctx.Sequence
	return m.Err
}

func TestFunc(t *testing.T) {
	var got string
	h := Func(func(ctx context.Context, hctx *Context, topic, payload []byte) error {
		got = string(topic) + "=" + string(payload)
		return nil
	})

	if err := h.Intercept(context.Background(), &Context{}, []byte("weather"), []byte("sunny")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "weather=sunny" {
		t.Errorf("Expected weather=sunny, got %s", got)
	}
}

func TestChain(t *testing.T) {
	errFirst := errors.New("first failed")
	errThird := errors.New("third failed")

	tests := []struct {
		name    string
		hooks   []*MockHook
		wantErr []error
	}{
		{
			name:  "all succeed",
			hooks: []*MockHook{{}, {}},
		},
		{
			name:    "failures do not stop later hooks",
			hooks:   []*MockHook{{Err: errFirst}, {}, {Err: errThird}},
			wantErr: []error{errFirst, errThird},
		},
		{
			name: "empty chain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks := make([]Hook, 0, len(tt.hooks)+1)
			for _, m := range tt.hooks {
				hooks = append(hooks, m)
			}
			hooks = append(hooks, nil)

			hctx := &Context{Sequence: 7}
			err := Chain(hooks...).Intercept(context.Background(), hctx, []byte("t"), []byte("p"))

			if len(tt.wantErr) == 0 && err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			for _, want := range tt.wantErr {
				if !errors.Is(err, want) {
					t.Errorf("Expected error %v in %v", want, err)
				}
			}
			for i, m := range tt.hooks {
				if m.Calls != 1 {
					t.Errorf("hook %d called %d times, want 1", i, m.Calls)
				}
				if m.LastTopic != "t" || string(m.LastPayload) != "p" || m.LastSeq != 7 {
					t.Errorf("hook %d saw %q/%q/%d", i, m.LastTopic, m.LastPayload, m.LastSeq)
				}
			}
		})
	}
}
