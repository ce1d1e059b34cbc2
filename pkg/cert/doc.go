// Package cert owns the lifecycle of the self-managed NTS server certificate.
//
// Reconcile is a pure transition function: given the persisted State, the
// configured Intent and one Event, it returns the next State and the Effects
// (certificate requests to the certificate authority and a final Apply) that
// the caller executes. Keys are ECDSA P-256 and every CSR names the server
// and its wildcard.
//
// Usage:
//
//	r := cert.NewReconciler()
//	next, effects, err := r.Reconcile(state, cert.Intent{ServerName: "ntp.example.com", IntegrationActive: true}, cert.ConfigChanged{})
//	if err != nil {
//	    // handle error
//	}
//	pairs := cert.Aggregate(external, next)
package cert
