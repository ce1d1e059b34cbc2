// Package testutil provides test helpers shared by the operator packages: a
// controller-runtime fake client with failure injection, a fake certificate
// authority acting on CertificateSigningRequest objects and a recording
// service controller.
//
// Example:
//
//	c := testutil.NewFakeClient(t)
//	ca := testutil.NewFakeCA(t, c)
//	// ... the code under test creates a CertificateSigningRequest ...
//	ca.SignAll(t)
package testutil
