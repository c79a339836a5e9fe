package auth

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRegistrations
	MetricPasswordChanges
	MetricResetRequests
	MetricResetCompletions
	MetricEmailVerifications
	MetricTwoFactorEnrollments
	MetricTwoFactorDisables
	MetricBackupCodeUses
	MetricAccountDeletions
	MetricRateLimitDenials

	metricCount
)

var metricNames = [metricCount]string{
	"login_success",
	"login_failure",
	"login_rate_limited",
	"refresh_success",
	"refresh_failure",
	"registrations",
	"password_changes",
	"reset_requests",
	"reset_completions",
	"email_verifications",
	"two_factor_enrollments",
	"two_factor_disables",
	"backup_code_uses",
	"account_deletions",
	"rate_limit_denials",
}

// Metrics holds the engine's in-process counters. All methods are safe for
// concurrent use.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) inc(id MetricID) {
	if id >= 0 && id < metricCount {
		m.counters[id].Add(1)
	}
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if id < 0 || id >= metricCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter into a map keyed by metric name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	for i := MetricID(0); i < metricCount; i++ {
		out[metricNames[i]] = m.counters[i].Load()
	}
	return out
}
