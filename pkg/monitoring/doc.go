// Package monitoring provides Prometheus metrics, tracing helpers and the
// metrics HTTP endpoint of the chrony operator.
//
// All metrics follow the naming convention chrony_operator_<metric>_<unit>
// and are registered against controller-runtime's default Prometheus registry
// on import.
//
// Usage in the pass driver:
//
//	ctx, span := monitoring.StartReconcileSpan(ctx, "Reconcile", event, namespace)
//	defer span.End()
//	monitoring.RecordReconcile(event, err, time.Since(start))
package monitoring
