package monitoring

import "time"

// Certificate origins reported by SetCertificates.
const (
	OriginExternal    = "external"
	OriginSelfManaged = "self-managed"
)

// RecordReconcile records a reconciliation pass result and duration.
func RecordReconcile(event string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	reconcileTotal.WithLabelValues(event, result).Inc()
	reconcileDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordRestart counts a chrony restart.
func RecordRestart() {
	restartsTotal.Inc()
}

// RecordCSRRequest counts a request sent to the certificate authority.
// kind is one of "creation", "renewal" or "revocation".
func RecordCSRRequest(kind string) {
	csrRequestsTotal.WithLabelValues(kind).Inc()
}

// SetCertificates sets the certificate gauges from the aggregated set.
func SetCertificates(external, selfManaged int) {
	certificates.WithLabelValues(OriginExternal).Set(float64(external))
	certificates.WithLabelValues(OriginSelfManaged).Set(float64(selfManaged))
}

// SetPhase sets the info-style phase gauge.
// Previous phase labels are removed so exactly one series is 1.
func SetPhase(phase string) {
	phaseInfo.Reset()
	phaseInfo.WithLabelValues(phase).Set(1)
}
