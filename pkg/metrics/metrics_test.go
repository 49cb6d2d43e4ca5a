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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	// Metrics should be enabled by default
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	// Test disabling
	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	// Test enabling
	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordCeremony(t *testing.T) {
	Enable()

	// Reset counters before test
	CeremoniesTotal.Reset()
	CeremonyDuration.Reset()

	// Record a successful ceremony
	RecordCeremony(CeremonyRegistration, PhaseComplete, "login.example.com", StatusSuccess, 0.05)

	// Verify counter incremented
	count := testutil.CollectAndCount(CeremoniesTotal)
	if count != 1 {
		t.Errorf("Expected 1 ceremony recorded, got %d", count)
	}

	// Verify histogram updated
	histCount := testutil.CollectAndCount(CeremonyDuration)
	if histCount != 1 {
		t.Errorf("Expected 1 histogram sample, got %d", histCount)
	}

	// Record a failed ceremony
	RecordCeremony(CeremonyAuthentication, PhaseComplete, "login.example.com", StatusError, 0.01)

	// Verify counter incremented again
	count = testutil.CollectAndCount(CeremoniesTotal)
	if count != 2 {
		t.Errorf("Expected 2 ceremonies recorded, got %d", count)
	}
}

func TestRecordCeremonyWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	// Reset counters
	CeremoniesTotal.Reset()

	// Record ceremony while disabled
	RecordCeremony(CeremonyRegistration, PhaseBegin, "login.example.com", StatusSuccess, 0.5)

	// Verify nothing was recorded
	count := testutil.CollectAndCount(CeremoniesTotal)
	if count != 0 {
		t.Errorf("Expected 0 ceremonies when disabled, got %d", count)
	}
}

func TestRecordFailure(t *testing.T) {
	Enable()

	// Reset counters
	FailuresTotal.Reset()

	// Record a failure
	RecordFailure(CeremonyAuthentication, ReasonChallengeExpired)

	// Verify counter incremented
	count := testutil.CollectAndCount(FailuresTotal)
	if count != 1 {
		t.Errorf("Expected 1 failure recorded, got %d", count)
	}

	// Record another failure
	RecordFailure(CeremonyRegistration, ReasonOwnerMismatch)

	// Verify counter incremented again
	count = testutil.CollectAndCount(FailuresTotal)
	if count != 2 {
		t.Errorf("Expected 2 failures recorded, got %d", count)
	}
}

func TestRecordCounterRegression(t *testing.T) {
	Enable()

	CounterRegressionsTotal.Reset()
	FailuresTotal.Reset()

	RecordCounterRegression("login.example.com")

	// The regression counter and the general failure counter both increment
	value := testutil.ToFloat64(CounterRegressionsTotal.WithLabelValues("login.example.com"))
	if value != 1 {
		t.Errorf("Expected 1 counter regression, got %f", value)
	}
	value = testutil.ToFloat64(FailuresTotal.WithLabelValues(CeremonyAuthentication, ReasonCounterRegression))
	if value != 1 {
		t.Errorf("Expected 1 failure recorded, got %f", value)
	}
}

func TestRecordChallengeIssued(t *testing.T) {
	Enable()

	ChallengesIssued.Reset()

	RecordChallengeIssued(CeremonyAuthentication)
	RecordChallengeIssued(CeremonyAuthentication)
	RecordChallengeIssued(CeremonyRegistration)

	value := testutil.ToFloat64(ChallengesIssued.WithLabelValues(CeremonyAuthentication))
	if value != 2 {
		t.Errorf("Expected 2 authentication challenges issued, got %f", value)
	}
	value = testutil.ToFloat64(ChallengesIssued.WithLabelValues(CeremonyRegistration))
	if value != 1 {
		t.Errorf("Expected 1 registration challenge issued, got %f", value)
	}
}

func TestRecordChallengesSwept(t *testing.T) {
	Enable()

	before := testutil.ToFloat64(ChallengesSwept)

	RecordChallengesSwept(5)
	RecordChallengesSwept(0)
	RecordChallengesSwept(-3)

	// Zero and negative counts are ignored
	after := testutil.ToFloat64(ChallengesSwept)
	if after-before != 5 {
		t.Errorf("Expected sweep counter to grow by 5, grew by %f", after-before)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	Enable()

	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "200", 0.05)

	count := testutil.CollectAndCount(HTTPRequestsTotal)
	if count != 1 {
		t.Errorf("Expected 1 HTTP request recorded, got %d", count)
	}
}

func TestSetCredentialsTotal(t *testing.T) {
	Enable()

	CredentialsTotal.Reset()

	SetCredentialsTotal("login.example.com", 3)
	SetCredentialsTotal("admin.example.com", 1)

	value := testutil.ToFloat64(CredentialsTotal.WithLabelValues("login.example.com"))
	if value != 3 {
		t.Errorf("Expected 3 credentials, got %f", value)
	}
}
