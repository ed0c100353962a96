package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|locked|mfa_required).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicauth_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// TokenRejections counts bearer tokens rejected by reason (missing|invalid|expired).
	TokenRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicauth_token_rejections_total",
			Help: "Total number of rejected bearer tokens",
		},
		[]string{"reason"},
	)

	// PermissionChecks counts gate decisions. source is role, temporary, authenticated or none.
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicauth_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result", "source"},
	)

	// CodeActivations counts access code activation attempts by outcome.
	CodeActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicauth_code_activations_total",
			Help: "Total number of temporary access code activation attempts",
		},
		[]string{"result"},
	)

	// CodesGenerated counts issued access codes by use type.
	CodesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinicauth_codes_generated_total",
			Help: "Total number of temporary access codes generated",
		},
		[]string{"use_type"},
	)

	// AuditWriteFailures counts audit entries that could not be persisted.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinicauth_audit_write_failures_total",
			Help: "Total number of audit log writes that failed",
		},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinicauth_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinicauth_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
