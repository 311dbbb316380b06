// Package metrics holds the broker's Prometheus collectors: counters and
// histograms handed to the service layer so it can record outcomes without
// importing the registration machinery itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the broker records.
type Metrics struct {
	AuthzDecisionsTotal   *prometheus.CounterVec
	ApprovalRequestsTotal *prometheus.CounterVec
	ApprovalLatency       *prometheus.HistogramVec
	WrapperInvocations    *prometheus.CounterVec
	WrapperDuration       *prometheus.HistogramVec
	PendingApprovals      prometheus.Gauge
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AuthzDecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broker",
				Name:      "authz_decisions_total",
				Help:      "Total authorization decisions by outcome",
			},
			[]string{"operation", "outcome"},
		),
		ApprovalRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broker",
				Name:      "approval_requests_total",
				Help:      "Total approval request transitions by action",
			},
			[]string{"operation", "action"},
		),
		ApprovalLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "broker",
				Name:      "approval_decision_latency_seconds",
				Help:      "Time from request creation to a terminal approve/reject decision",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
			},
			[]string{"operation"},
		),
		WrapperInvocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "broker",
				Name:      "wrapper_invocations_total",
				Help:      "Total wrapper invocations by wrapper id and result",
			},
			[]string{"wrapper_id", "result"},
		),
		WrapperDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "broker",
				Name:      "wrapper_duration_seconds",
				Help:      "Wrapper invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"wrapper_id"},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "broker",
				Name:      "pending_approvals",
				Help:      "Number of approval requests currently pending",
			},
		),
	}
}
