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

// Package metrics provides Prometheus instrumentation for passkey ceremony
// operations. It exposes ceremony counters, performance histograms, security
// signals, and resource gauges for monitoring passkey server health.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelCeremony   = "ceremony"
	LabelPhase      = "phase"
	LabelRPID       = "rp_id"
	LabelStatus     = "status"
	LabelReason     = "reason"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony names
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"

	// Phase values
	PhaseBegin    = "begin"
	PhaseComplete = "complete"

	// Failure reasons
	ReasonChallengeNotFound = "challenge_not_found"
	ReasonChallengeExpired  = "challenge_expired"
	ReasonKindMismatch      = "kind_mismatch"
	ReasonOwnerMismatch     = "owner_mismatch"
	ReasonRPMismatch        = "rp_mismatch"
	ReasonCounterRegression = "counter_regression"
	ReasonVerification      = "verification_failed"
	ReasonStore             = "store_error"
)

var (
	// CeremoniesTotal tracks passkey ceremonies by ceremony type, phase,
	// relying party, and outcome. Use RecordCeremony to increment.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of passkey ceremonies by type, phase, relying party, and status",
		},
		[]string{LabelCeremony, LabelPhase, LabelRPID, LabelStatus},
	)

	// CeremonyDuration tracks the duration of ceremony operations in seconds.
	// Buckets are sized for signature verification latencies.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of passkey ceremony operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony, LabelPhase},
	)

	// FailuresTotal tracks ceremony failures by ceremony type and reason.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Total number of ceremony failures by type and reason",
		},
		[]string{LabelCeremony, LabelReason},
	)

	// CounterRegressionsTotal tracks authentication attempts rejected because
	// the authenticator signature counter went backwards. A nonzero rate is a
	// credential-cloning signal and warrants alerting.
	CounterRegressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "counter_regressions_total",
			Help:      "Authentications rejected due to signature counter regression (possible cloned credential)",
		},
		[]string{LabelRPID},
	)

	// ChallengesIssued tracks challenges issued by ceremony type.
	ChallengesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_issued_total",
			Help:      "Total number of ceremony challenges issued by type",
		},
		[]string{LabelCeremony},
	)

	// ChallengesSwept tracks challenges removed by the expiry sweeper.
	ChallengesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_swept_total",
			Help:      "Total number of expired or consumed challenges removed by the sweeper",
		},
	)

	// CredentialsTotal tracks the number of registered credentials per
	// relying party. Updated on registration and deletion.
	CredentialsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "credentials_total",
			Help:      "Number of registered credentials per relying party",
		},
		[]string{LabelRPID},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ActiveConnections tracks the number of in-flight HTTP requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// Goroutines tracks the current number of goroutines in the passkey server.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records a ceremony operation with its duration and status.
//
// Parameters:
//   - ceremony: Ceremony* constant
//   - phase: Phase* constant
//   - rpID: the relying party the ceremony was bound to
//   - status: Status* constant
//   - duration: operation duration in seconds
func RecordCeremony(ceremony, phase, rpID, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, phase, rpID, status).Inc()
	CeremonyDuration.WithLabelValues(ceremony, phase).Observe(duration)
}

// RecordFailure records a ceremony failure with its reason.
func RecordFailure(ceremony, reason string) {
	if !enabled.Load() {
		return
	}
	FailuresTotal.WithLabelValues(ceremony, reason).Inc()
}

// RecordCounterRegression records a rejected authentication whose signature
// counter went backwards.
func RecordCounterRegression(rpID string) {
	if !enabled.Load() {
		return
	}
	CounterRegressionsTotal.WithLabelValues(rpID).Inc()
	FailuresTotal.WithLabelValues(CeremonyAuthentication, ReasonCounterRegression).Inc()
}

// RecordChallengeIssued records issuance of a ceremony challenge.
func RecordChallengeIssued(ceremony string) {
	if !enabled.Load() {
		return
	}
	ChallengesIssued.WithLabelValues(ceremony).Inc()
}

// RecordChallengesSwept records challenges removed by the sweeper.
func RecordChallengesSwept(count int64) {
	if !enabled.Load() || count <= 0 {
		return
	}
	ChallengesSwept.Add(float64(count))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetCredentialsTotal sets the credential count gauge for a relying party.
func SetCredentialsTotal(rpID string, count float64) {
	if !enabled.Load() {
		return
	}
	CredentialsTotal.WithLabelValues(rpID).Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
