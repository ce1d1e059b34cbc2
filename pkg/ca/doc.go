// Package ca exchanges certificate signing requests with a certificate
// authority through Kubernetes certificates.k8s.io/v1
// CertificateSigningRequest objects.
//
// KubeRequester executes the request effects returned by cert.Reconcile.
// Watcher polls the object of the stored CSR and turns its status into
// cert.CertificateAvailable or cert.CertificateInvalidated events.
package ca
