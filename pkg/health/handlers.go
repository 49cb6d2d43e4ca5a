// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// probeResponse is the JSON body returned by the probe endpoints.
type probeResponse struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// MountChi mounts the probe endpoints onto a chi router:
//
//   - GET /healthz/live
//   - GET /healthz/ready
//   - GET /healthz/startup
func (c *Checker) MountChi(r chi.Router) {
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/live", c.LiveHandler)
		r.Get("/ready", c.ReadyHandler)
		r.Get("/startup", c.StartupHandler)
	})
}

// LiveHandler serves the liveness probe.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	result := c.Live(r.Context())
	writeProbe(w, probeResponse{
		Status: result.Status,
		Checks: []CheckResult{result},
	})
}

// ReadyHandler serves the readiness probe. Returns 503 when any registered
// check reports unhealthy.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	results := c.Ready(r.Context())
	writeProbe(w, probeResponse{
		Status: AggregateStatus(results),
		Checks: results,
	})
}

// StartupHandler serves the startup probe. Returns 503 until MarkStarted.
func (c *Checker) StartupHandler(w http.ResponseWriter, r *http.Request) {
	result := c.Startup(r.Context())
	writeProbe(w, probeResponse{
		Status: result.Status,
		Checks: []CheckResult{result},
	})
}

func writeProbe(w http.ResponseWriter, resp probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
