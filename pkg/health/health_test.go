// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		critical  CheckFunc
		optional  CheckFunc
		wanted    Status
		healthy   int
		readiness int
	}{
		{name: "all passing", critical: ok, optional: ok, wanted: StatusHealthy, healthy: http.StatusOK, readiness: http.StatusOK},
		{name: "optional failing", critical: ok, optional: failing, wanted: StatusDegraded, healthy: http.StatusOK, readiness: http.StatusServiceUnavailable},
		{name: "critical failing", critical: failing, optional: ok, wanted: StatusUnhealthy, healthy: http.StatusServiceUnavailable, readiness: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(time.Minute)
			c.RegisterCritical("proxy", tt.critical)
			c.Register("audit", tt.optional)

			status, checks := c.Health(context.Background())
			if status != tt.wanted {
				t.Errorf("Health() = %s, want %s", status, tt.wanted)
			}
			if len(checks) != 2 || checks[0].Name != "audit" || checks[1].Name != "proxy" {
				t.Errorf("unexpected checks %+v", checks)
			}

			rec := httptest.NewRecorder()
			c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.healthy {
				t.Errorf("health code = %d, want %d", rec.Code, tt.healthy)
			}

			rec = httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.readiness {
				t.Errorf("readiness code = %d, want %d", rec.Code, tt.readiness)
			}

			var body struct {
				Status Status  `json:"status"`
				Checks []Check `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if body.Status != tt.wanted {
				t.Errorf("body status = %s, want %s", body.Status, tt.wanted)
			}
		})
	}
}

func TestHealthCachesResults(t *testing.T) {
	calls := 0
	c := NewChecker(time.Minute)
	c.Register("counted", func(context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())

	if calls != 1 {
		t.Errorf("check ran %d times, want 1", calls)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}
