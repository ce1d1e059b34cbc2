package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	certificatesv1 "k8s.io/api/certificates/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/numtide/chrony-operator/pkg/util/metadata"
)

// CertificateValidity is the lifetime of certificates issued by FakeCA.
const CertificateValidity = 90 * 24 * time.Hour

// NewScheme returns a scheme with the built-in Kubernetes types.
func NewScheme(t testing.TB) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("failed to build scheme: %v", err)
	}
	return scheme
}

// NewFakeClient returns a fake client holding objs. CertificateSigningRequest
// status is a subresource, as on a real API server.
func NewFakeClient(t testing.TB, objs ...client.Object) client.Client {
	t.Helper()
	return fake.NewClientBuilder().
		WithScheme(NewScheme(t)).
		WithObjects(objs...).
		WithStatusSubresource(&certificatesv1.CertificateSigningRequest{}).
		Build()
}

// FakeCA signs or denies the CertificateSigningRequest objects found through
// its client.
type FakeCA struct {
	Client client.Client
	CA     *Authority
}

// NewFakeCA returns a FakeCA with a fresh root certificate.
func NewFakeCA(t testing.TB, c client.Client) *FakeCA {
	t.Helper()
	ca, err := NewAuthority()
	if err != nil {
		t.Fatalf("failed to generate CA: %v", err)
	}
	return &FakeCA{Client: c, CA: ca}
}

// Pending returns the operator's objects without a certificate or a terminal
// condition.
func (f *FakeCA) Pending(t testing.TB) []certificatesv1.CertificateSigningRequest {
	t.Helper()
	list := &certificatesv1.CertificateSigningRequestList{}
	selector := client.MatchingLabels(metadata.GetSelectorLabels(""))
	if err := f.Client.List(context.Background(), list, selector); err != nil {
		t.Fatalf("failed to list certificate signing requests: %v", err)
	}
	var pending []certificatesv1.CertificateSigningRequest
	for _, obj := range list.Items {
		if len(obj.Status.Certificate) == 0 && len(obj.Status.Conditions) == 0 {
			pending = append(pending, obj)
		}
	}
	return pending
}

// SignAll issues a certificate for every pending object and returns the
// signed CSRs.
func (f *FakeCA) SignAll(t testing.TB) []string {
	t.Helper()
	var signed []string
	for _, obj := range f.Pending(t) {
		chain, err := f.CA.Sign(string(obj.Spec.Request), CertificateValidity)
		if err != nil {
			t.Fatalf("failed to sign %s: %v", obj.Name, err)
		}
		obj.Status.Conditions = append(obj.Status.Conditions, certificatesv1.CertificateSigningRequestCondition{
			Type:   certificatesv1.CertificateApproved,
			Status: corev1.ConditionTrue,
			Reason: "FakeCA",
		})
		obj.Status.Certificate = []byte(chain)
		if err := f.Client.Status().Update(context.Background(), &obj); err != nil {
			t.Fatalf("failed to update %s: %v", obj.Name, err)
		}
		signed = append(signed, string(obj.Spec.Request))
	}
	return signed
}

// Deny marks the object name as denied.
func (f *FakeCA) Deny(t testing.TB, name string) {
	t.Helper()
	obj := &certificatesv1.CertificateSigningRequest{}
	if err := f.Client.Get(context.Background(), client.ObjectKey{Name: name}, obj); err != nil {
		t.Fatalf("failed to get %s: %v", name, err)
	}
	obj.Status.Conditions = append(obj.Status.Conditions, certificatesv1.CertificateSigningRequestCondition{
		Type:    certificatesv1.CertificateDenied,
		Status:  corev1.ConditionTrue,
		Reason:  "FakeCA",
		Message: "denied by test",
	})
	if err := f.Client.Status().Update(context.Background(), obj); err != nil {
		t.Fatalf("failed to update %s: %v", name, err)
	}
}

// RecordingService counts restarts instead of restarting anything.
type RecordingService struct {
	mu       sync.Mutex
	restarts int
	Err      error
}

// Restart records one restart or returns Err.
func (s *RecordingService) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.restarts++
	return nil
}

// Restarts returns the number of successful restarts.
func (s *RecordingService) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
