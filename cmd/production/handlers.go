// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/absmach/fproxy/pkg/hook"
	"github.com/absmach/fproxy/pkg/hook/audit"
	"github.com/absmach/fproxy/pkg/hook/wstap"
	"github.com/absmach/fproxy/pkg/metrics"
	"github.com/absmach/fproxy/pkg/ratelimit"
)

const reasonRateLimited = "rate_limited"

var _ hook.Hook = (*SampledHook)(nil)

// SampledHook calls the wrapped hook only while the topic is within its rate
// limit. Skipped messages are still forwarded by the proxy.
type SampledHook struct {
	name    string
	hook    hook.Hook
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Intercept implements hook.Hook with per-topic rate limiting.
func (h *SampledHook) Intercept(ctx context.Context, hctx *hook.Context, topic, payload []byte) error {
	if !h.limiter.Allow(string(topic)) {
		h.metrics.HookSkipped.WithLabelValues(h.name, reasonRateLimited).Inc()
		h.logger.Debug("hook skipped, topic rate limit exceeded",
			slog.String("hook", h.name),
			slog.String("topic", string(topic)))
		return nil
	}

	return h.hook.Intercept(ctx, hctx, topic, payload)
}

// registerTapMetrics exports the counters the tap keeps itself.
func registerTapMetrics(m *metrics.Metrics, tap *wstap.Tap) {
	m.CounterFunc("tap_events_dropped_total", "Total number of tap events not delivered to slow clients", tap.Dropped)
}

// registerAuditMetrics exports the counters the auditor keeps itself.
func registerAuditMetrics(m *metrics.Metrics, a *audit.Auditor) {
	m.CounterFunc("audit_entries_written_total", "Total number of entries added to the audit stream", a.Written)
	m.CounterFunc("audit_entries_failed_total", "Total number of entries the audit stream rejected", a.Failed)
}
