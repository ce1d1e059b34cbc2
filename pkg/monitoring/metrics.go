package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Operator metric collectors.
//
// These describe the reconciliation passes of the host agent and the state
// they leave behind. chrony's own runtime statistics are not exported here.
var (
	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrony_operator_reconcile_total",
			Help: "Total number of reconciliation passes by triggering event and result.",
		},
		[]string{"event", "result"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chrony_operator_reconcile_duration_seconds",
			Help:    "Latency of a reconciliation pass in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chrony_operator_restarts_total",
			Help: "Total number of chrony restarts issued after a configuration change.",
		},
	)

	csrRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chrony_operator_csr_requests_total",
			Help: "Total number of certificate requests sent to the certificate authority by kind.",
		},
		[]string{"kind"},
	)

	certificates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chrony_operator_certificates",
			Help: "Number of NTS server certificates in the certificate store by origin.",
		},
		[]string{"origin"},
	)

	phaseInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chrony_operator_phase",
			Help: "Info-style metric for the operational phase of the agent. Always 1.",
		},
		[]string{"phase"},
	)
)

func init() {
	metrics.Registry.MustRegister(Collectors()...)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		reconcileTotal,
		reconcileDuration,
		restartsTotal,
		csrRequestsTotal,
		certificates,
		phaseInfo,
	}
}
