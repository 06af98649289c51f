// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "refreshguard"

var (
	RefreshOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "refresh_outcomes_total", Help: "Refresh attempts by outcome."},
		[]string{"outcome"},
	)
	FamilyRevocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "family_revocations_total", Help: "Token families revoked after breach detection, by reason."},
		[]string{"reason"},
	)
	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "logins_total", Help: "Login attempts by result."},
		[]string{"result"},
	)
	AuditArchive = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "audit_archive_total", Help: "Audit events sent to the archive, by result."},
		[]string{"result"},
	)
	CleanupRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "cleanup_removed_total", Help: "Expired refresh-token records removed."},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "RPCs rejected by the rate limiter, by method."},
		[]string{"method"},
	)
)

// RegisterCollectors registers every collector with reg.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RefreshOutcomes)
	reg.MustRegister(FamilyRevocations)
	reg.MustRegister(Logins)
	reg.MustRegister(AuditArchive)
	reg.MustRegister(CleanupRemoved)
	reg.MustRegister(RateLimitRejected)
}
