package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	certificatesv1 "k8s.io/api/certificates/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/pkg/ca"
	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/chrony"
	"github.com/numtide/chrony-operator/pkg/keychain"
	"github.com/numtide/chrony-operator/pkg/secrets"
	"github.com/numtide/chrony-operator/pkg/testutil"
)

const staticHead = "bindcmdaddress 127.0.0.1\n"

// harness wires a Reconciler to temporary directories, a fake API server and
// a fake certificate authority.
type harness struct {
	spec     chronyv1alpha1.ChronyConfigSpec
	client   client.Client
	ca       *testutil.FakeCA
	service  *testutil.RecordingService
	keychain *keychain.Keychain
	store    *chrony.Store
	watcher  *ca.Watcher
	r        *Reconciler
}

func newHarness(t *testing.T, c client.Client) *harness {
	t.Helper()
	if c == nil {
		c = testutil.NewFakeClient(t)
	}
	dir := t.TempDir()
	h := &harness{
		client:   c,
		ca:       testutil.NewFakeCA(t, c),
		service:  &testutil.RecordingService{},
		keychain: keychain.New(filepath.Join(dir, "state"), keychain.DefaultNamespace),
		store:    &chrony.Store{Dir: filepath.Join(dir, "certs")},
	}
	h.watcher = &ca.Watcher{
		Client: c,
		CSR:    func() (string, bool, error) { return h.keychain.Get(keychain.SlotCSR) },
	}
	h.r = &Reconciler{
		Chrony: &chrony.Chrony{
			ConfigFile: filepath.Join(dir, "chrony.conf"),
			Store:      h.store,
			Service:    h.service,
		},
		Keychain:  h.keychain,
		Certs:     cert.NewReconciler(),
		Requester: &ca.KubeRequester{Client: c},
		Secrets:   &secrets.Resolver{Client: c},
		Config: func() (chronyv1alpha1.ChronyConfigSpec, error) {
			return h.spec, nil
		},
	}
	return h
}

func (h *harness) reconcile(t *testing.T, event cert.Event) Result {
	t.Helper()
	res, err := h.r.Reconcile(t.Context(), event)
	if err != nil {
		t.Fatalf("Reconcile(%s) error = %v", event.Name(), err)
	}
	return res
}

// deliver signs every pending request and runs the pass for the resulting
// CA signal.
func (h *harness) deliver(t *testing.T) Result {
	t.Helper()
	if signed := h.ca.SignAll(t); len(signed) != 1 {
		t.Fatalf("signed %d requests, want 1", len(signed))
	}
	event, err := h.watcher.Check(t.Context())
	if err != nil {
		t.Fatalf("watcher.Check() error = %v", err)
	}
	if _, ok := event.(cert.CertificateAvailable); !ok {
		t.Fatalf("watcher.Check() = %#v, want cert.CertificateAvailable", event)
	}
	return h.reconcile(t, event)
}

func (h *harness) config(t *testing.T) string {
	t.Helper()
	content, err := h.r.Chrony.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}
	return content
}

func (h *harness) slot(t *testing.T, slot keychain.Slot) (string, bool) {
	t.Helper()
	value, ok, err := h.keychain.Get(slot)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", slot, err)
	}
	return value, ok
}

func (h *harness) stored(t *testing.T) []chrony.TLSKeyPair {
	t.Helper()
	pairs, err := h.store.Read()
	if err != nil {
		t.Fatalf("store.Read() error = %v", err)
	}
	return pairs
}

func (h *harness) requests(t *testing.T) []certificatesv1.CertificateSigningRequest {
	t.Helper()
	list := &certificatesv1.CertificateSigningRequestList{}
	if err := h.client.List(t.Context(), list); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return list.Items
}

// issue configures a server name with an active integration and delivers
// the first certificate.
func (h *harness) issue(t *testing.T, serverName string) {
	t.Helper()
	h.spec.ServerName = serverName
	h.spec.CA.Enabled = true
	if res := h.reconcile(t, cert.IntegrationCreated{}); res.Phase != chronyv1alpha1.PhaseWaiting {
		t.Fatalf("phase after request = %v, want %v", res.Phase, chronyv1alpha1.PhaseWaiting)
	}
	if res := h.deliver(t); res.Phase != chronyv1alpha1.PhaseActive {
		t.Fatalf("phase after delivery = %v, want %v", res.Phase, chronyv1alpha1.PhaseActive)
	}
}

func effectKinds(effects []cert.Effect) []string {
	kinds := make([]string, 0, len(effects))
	for _, e := range effects {
		kinds = append(kinds, fmt.Sprintf("%T", e))
	}
	return kinds
}

func TestReconcileSourcesOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "ntp://example.com,nts://nts.example.com"

	res := h.reconcile(t, cert.ConfigChanged{})
	if res.Phase != chronyv1alpha1.PhaseActive || !res.Changed {
		t.Errorf("Reconcile() = %+v, want an Active phase and a change", res)
	}

	content := h.config(t)
	wantHead := "pool example.com\npool nts.example.com nts\n\n" + staticHead
	if !strings.HasPrefix(content, wantHead) {
		t.Errorf("config = %q, want prefix %q", content, wantHead)
	}
	if strings.Contains(content, "ntsservercert") {
		t.Errorf("config references certificates without any configured:\n%s", content)
	}
	if pairs := h.stored(t); len(pairs) != 0 {
		t.Errorf("store = %v, want empty", pairs)
	}

	// Applying the same intent again does not restart chrony.
	if res := h.reconcile(t, cert.ConfigChanged{}); res.Changed {
		t.Error("second Reconcile() reported a change")
	}
	if got := h.service.Restarts(); got != 1 {
		t.Errorf("restarts = %d, want 1", got)
	}
}

func TestReconcileNoSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	res := h.reconcile(t, cert.Install{})

	if res.Phase != chronyv1alpha1.PhaseBlocked || res.Message != chronyv1alpha1.MessageNoSource {
		t.Errorf("Reconcile() = %+v, want Blocked with %q", res, chronyv1alpha1.MessageNoSource)
	}
	if _, err := os.Stat(h.r.Chrony.ConfigFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("config file written without sources: %v", err)
	}
	if got := h.service.Restarts(); got != 0 {
		t.Errorf("restarts = %d, want 0", got)
	}
	if _, ok := h.slot(t, keychain.SlotPrivateKey); !ok {
		t.Error("private key not created on install")
	}
}

func TestReconcileInvalidSources(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "ntp://example.com,ntp://example.com?bogus=1"
	h.spec.ServerName = "ntp.example.com"
	h.spec.CA.Enabled = true

	res, err := h.r.Reconcile(t.Context(), cert.ConfigChanged{})
	if !errors.Is(err, chrony.ErrUnknownOption) {
		t.Fatalf("Reconcile() error = %v, want %v", err, chrony.ErrUnknownOption)
	}
	if res.Phase != chronyv1alpha1.PhaseBlocked {
		t.Errorf("phase = %v, want %v", res.Phase, chronyv1alpha1.PhaseBlocked)
	}
	if _, ok := h.slot(t, keychain.SlotPrivateKey); ok {
		t.Error("keychain changed by a rejected pass")
	}
	if reqs := h.requests(t); len(reqs) != 0 {
		t.Errorf("certificate requests = %d, want 0", len(reqs))
	}
	if _, err := os.Stat(h.r.Chrony.ConfigFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("config file written by a rejected pass: %v", err)
	}
}

func TestReconcileIssuesCertificate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.spec.ServerName = "ntp.example.com"

	// Without an integration nothing is requested.
	res := h.reconcile(t, cert.ConfigChanged{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}

	h.spec.CA.Enabled = true
	res = h.reconcile(t, cert.IntegrationCreated{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.RequestCreation", "cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	if res.Phase != chronyv1alpha1.PhaseWaiting || res.Message != chronyv1alpha1.MessageWaitingForCert {
		t.Errorf("Reconcile() = %+v, want Waiting", res)
	}
	if pending := h.ca.Pending(t); len(pending) != 1 {
		t.Fatalf("pending requests = %d, want 1", len(pending))
	}
	if strings.Contains(h.config(t), "ntsservercert") {
		t.Error("config references a certificate before it was issued")
	}

	h.deliver(t)

	pairs := h.stored(t)
	if len(pairs) != 1 {
		t.Fatalf("store holds %d pairs, want 1", len(pairs))
	}
	key, _ := h.slot(t, keychain.SlotPrivateKey)
	chain, _ := h.slot(t, keychain.SlotChain)
	if diff := cmp.Diff(pairs[0], chrony.TLSKeyPair{Certificate: chain, Key: key}); diff != "" {
		t.Errorf("stored pair mismatch (-got +want):\n%s", diff)
	}
	content := h.config(t)
	for _, want := range []string{
		"ntsservercert " + h.store.CertPath(0),
		"ntsserverkey " + h.store.KeyPath(0),
	} {
		if !strings.Contains(content, want) {
			t.Errorf("config is missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, h.store.CertPath(1)) {
		t.Errorf("config references a second certificate:\n%s", content)
	}

	leaf, err := cert.ParseLeaf(chain)
	if err != nil {
		t.Fatalf("ParseLeaf() error = %v", err)
	}
	if !slices.Contains(leaf.DNSNames, "ntp.example.com") {
		t.Errorf("certificate names = %v, want ntp.example.com", leaf.DNSNames)
	}
}

func TestReconcileServerNameChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.issue(t, "ntp.example.com")

	oldCSR, _ := h.slot(t, keychain.SlotCSR)
	oldChain, _ := h.slot(t, keychain.SlotChain)
	restarts := h.service.Restarts()

	h.spec.ServerName = "ntp2.example.com"
	res := h.reconcile(t, cert.ConfigChanged{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.RequestRenewal", "cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	// The previous chain keeps serving until the new one is signed.
	if res.Phase != chronyv1alpha1.PhaseActive {
		t.Errorf("phase = %v, want %v", res.Phase, chronyv1alpha1.PhaseActive)
	}

	reqs := h.requests(t)
	if len(reqs) != 1 {
		t.Fatalf("certificate requests = %d, want exactly the renewal", len(reqs))
	}
	if got := reqs[0].Annotations[ca.AnnotationPredecessor]; got != ca.ObjectName(oldCSR) {
		t.Errorf("predecessor = %q, want %q", got, ca.ObjectName(oldCSR))
	}
	if pairs := h.stored(t); len(pairs) != 1 || pairs[0].Certificate != oldChain {
		t.Errorf("store no longer holds the previous chain: %d pairs", len(pairs))
	}
	if got := h.service.Restarts(); got != restarts {
		t.Errorf("restarts = %d, want %d", got, restarts)
	}

	h.deliver(t)

	newChain, _ := h.slot(t, keychain.SlotChain)
	if newChain == oldChain {
		t.Fatal("chain not replaced after the renewal was signed")
	}
	leaf, err := cert.ParseLeaf(h.stored(t)[0].Certificate)
	if err != nil {
		t.Fatalf("ParseLeaf() error = %v", err)
	}
	if !slices.Contains(leaf.DNSNames, "ntp2.example.com") {
		t.Errorf("certificate names = %v, want ntp2.example.com", leaf.DNSNames)
	}
	if got := h.service.Restarts(); got != restarts+1 {
		t.Errorf("restarts = %d, want %d", got, restarts+1)
	}
}

func TestReconcileServerNameUnset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.issue(t, "ntp.example.com")
	key, _ := h.slot(t, keychain.SlotPrivateKey)

	h.spec.ServerName = ""
	res := h.reconcile(t, cert.ConfigChanged{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.RequestRevocation", "cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	if reqs := h.requests(t); len(reqs) != 0 {
		t.Errorf("certificate requests = %d, want the outstanding one revoked", len(reqs))
	}
	for _, slot := range []keychain.Slot{keychain.SlotServerName, keychain.SlotCSR, keychain.SlotChain} {
		if _, ok := h.slot(t, slot); ok {
			t.Errorf("slot %s still set", slot)
		}
	}
	if got, _ := h.slot(t, keychain.SlotPrivateKey); got != key {
		t.Error("private key not kept")
	}
	if content := h.config(t); strings.Contains(content, "ntsserver") {
		t.Errorf("config still references certificates:\n%s", content)
	}
	if pairs := h.stored(t); len(pairs) != 0 {
		t.Errorf("store holds %d pairs, want 0", len(pairs))
	}
}

func TestReconcileIntegrationBroken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.issue(t, "ntp.example.com")

	h.spec.CA.Enabled = false
	res := h.reconcile(t, cert.IntegrationBroken{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	if _, ok := h.slot(t, keychain.SlotCSR); ok {
		t.Error("CSR kept after the integration was removed")
	}
	if pairs := h.stored(t); len(pairs) != 0 {
		t.Errorf("store holds %d pairs, want 0", len(pairs))
	}
	if res.Phase != chronyv1alpha1.PhaseActive {
		t.Errorf("phase = %v, want %v", res.Phase, chronyv1alpha1.PhaseActive)
	}
}

func TestReconcileCertificateDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.spec.ServerName = "ntp.example.com"
	h.spec.CA.Enabled = true
	h.reconcile(t, cert.IntegrationCreated{})
	firstCSR, _ := h.slot(t, keychain.SlotCSR)

	h.ca.Deny(t, ca.ObjectName(firstCSR))
	event, err := h.watcher.Check(t.Context())
	if err != nil {
		t.Fatalf("watcher.Check() error = %v", err)
	}
	if _, ok := event.(cert.CertificateInvalidated); !ok {
		t.Fatalf("watcher.Check() = %#v, want cert.CertificateInvalidated", event)
	}

	res := h.reconcile(t, event)
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.RequestRenewal", "cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	secondCSR, _ := h.slot(t, keychain.SlotCSR)
	if secondCSR == firstCSR {
		t.Fatal("CSR not replaced after denial")
	}
	pending := h.ca.Pending(t)
	if len(pending) != 1 || pending[0].Name != ca.ObjectName(secondCSR) {
		t.Errorf("pending requests = %v, want only the replacement", pending)
	}

	h.deliver(t)
	if pairs := h.stored(t); len(pairs) != 1 {
		t.Errorf("store holds %d pairs, want 1", len(pairs))
	}
}

func TestReconcileCertificateDeniedRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.spec.ServerName = "ntp.example.com"
	h.spec.CA.Enabled = true
	h.reconcile(t, cert.IntegrationCreated{})
	deniedCSR, _ := h.slot(t, keychain.SlotCSR)
	h.ca.Deny(t, ca.ObjectName(deniedCSR))

	event, err := h.watcher.Check(t.Context())
	if err != nil {
		t.Fatalf("watcher.Check() error = %v", err)
	}
	requester := h.r.Requester
	h.r.Requester = &ca.KubeRequester{Client: testutil.NewFakeClientWithFailures(h.client, &testutil.FailureConfig{
		OnCreate: testutil.FailObjAfterNCalls(0, testutil.ErrInjected),
	})}
	if _, err := h.r.Reconcile(t.Context(), event); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("Reconcile() error = %v, want %v", err, testutil.ErrInjected)
	}
	if csr, _ := h.slot(t, keychain.SlotCSR); csr != deniedCSR {
		t.Fatal("CSR replaced although the renewal request failed")
	}

	// A resync alone cannot tell that the stored request was rejected.
	if res := h.reconcile(t, cert.ConfigChanged{}); res.Phase != chronyv1alpha1.PhaseWaiting {
		t.Fatalf("phase after resync = %v, want %v", res.Phase, chronyv1alpha1.PhaseWaiting)
	}

	h.r.Requester = requester
	h.watcher.Forget()
	event, err = h.watcher.Check(t.Context())
	if err != nil {
		t.Fatalf("watcher.Check() error = %v", err)
	}
	if _, ok := event.(cert.CertificateInvalidated); !ok {
		t.Fatalf("watcher.Check() after Forget() = %#v, want cert.CertificateInvalidated", event)
	}
	res := h.reconcile(t, event)
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.RequestRenewal", "cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	if csr, _ := h.slot(t, keychain.SlotCSR); csr == deniedCSR {
		t.Error("CSR not replaced on retry")
	}
	h.deliver(t)
	if pairs := h.stored(t); len(pairs) != 1 {
		t.Errorf("store holds %d pairs, want 1", len(pairs))
	}
}

func TestReconcileIntegrationGoneWhileStopped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com"
	h.issue(t, "ntp.example.com")

	// A restarted operator only sees a configuration change.
	h.spec.CA.Enabled = false
	res := h.reconcile(t, cert.ConfigChanged{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	for _, slot := range []keychain.Slot{keychain.SlotServerName, keychain.SlotCSR, keychain.SlotChain} {
		if _, ok := h.slot(t, slot); ok {
			t.Errorf("%s kept after the integration was disabled", slot)
		}
	}
	if _, ok := h.slot(t, keychain.SlotPrivateKey); !ok {
		t.Error("private key removed")
	}
	if pairs := h.stored(t); len(pairs) != 0 {
		t.Errorf("store holds %d pairs, want 0", len(pairs))
	}
	if strings.Contains(h.config(t), "ntsservercert") {
		t.Errorf("config still serves the self-managed certificate:\n%s", h.config(t))
	}
}

func TestReconcileExternalCertificatesFirst(t *testing.T) {
	t.Parallel()

	external := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: "chrony", Name: "external"},
		Type:       corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       []byte("external-cert"),
			corev1.TLSPrivateKeyKey: []byte("external-key"),
		},
	}
	h := newHarness(t, testutil.NewFakeClient(t, external))
	h.spec.Sources = "nts://nts.example.com"
	h.spec.NTSCertificates = []string{"chrony/external", "chrony/missing", "malformed"}
	h.issue(t, "ntp.example.com")

	chain, _ := h.slot(t, keychain.SlotChain)
	key, _ := h.slot(t, keychain.SlotPrivateKey)
	want := []chrony.TLSKeyPair{
		{Certificate: "external-cert", Key: "external-key"},
		{Certificate: chain, Key: key},
	}
	if diff := cmp.Diff(h.stored(t), want); diff != "" {
		t.Errorf("store mismatch (-got +want):\n%s", diff)
	}
	content := h.config(t)
	for _, path := range []string{h.store.CertPath(0), h.store.KeyPath(0), h.store.CertPath(1), h.store.KeyPath(1)} {
		if !strings.Contains(content, path) {
			t.Errorf("config is missing %s:\n%s", path, content)
		}
	}
}

func TestReconcileWithoutCertificateAuthority(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.r.Requester = nil
	h.spec.Sources = "ntp://example.com"
	h.spec.ServerName = "ntp.example.com"
	h.spec.CA.Enabled = true

	res := h.reconcile(t, cert.IntegrationCreated{})
	if diff := cmp.Diff(effectKinds(res.Effects), []string{"cert.Apply"}); diff != "" {
		t.Errorf("effects mismatch (-got +want):\n%s", diff)
	}
	if res.Phase != chronyv1alpha1.PhaseActive {
		t.Errorf("phase = %v, want %v", res.Phase, chronyv1alpha1.PhaseActive)
	}
}

func TestReconcileErrors(t *testing.T) {
	t.Parallel()

	errLoad := errors.New("config unavailable")

	tests := map[string]struct {
		setup   func(*testing.T, *harness)
		wantErr error
		check   func(*testing.T, *harness)
	}{
		"configuration load fails": {
			setup: func(_ *testing.T, h *harness) {
				h.r.Config = func() (chronyv1alpha1.ChronyConfigSpec, error) {
					return chronyv1alpha1.ChronyConfigSpec{}, errLoad
				}
			},
			wantErr: errLoad,
		},
		"certificate request fails": {
			setup: func(t *testing.T, h *harness) {
				failing := testutil.NewFakeClientWithFailures(h.client, &testutil.FailureConfig{
					OnCreate: testutil.FailObjAfterNCalls(0, testutil.ErrInjected),
				})
				h.r.Requester = &ca.KubeRequester{Client: failing}
				h.spec.ServerName = "ntp.example.com"
				h.spec.CA.Enabled = true
			},
			wantErr: testutil.ErrInjected,
			check: func(t *testing.T, h *harness) {
				if _, ok := h.slot(t, keychain.SlotCSR); ok {
					t.Error("CSR saved although the request failed")
				}
				if _, err := os.Stat(h.r.Chrony.ConfigFile); !errors.Is(err, os.ErrNotExist) {
					t.Errorf("config applied although the request failed: %v", err)
				}
			},
		},
		"secret lookup fails": {
			setup: func(t *testing.T, h *harness) {
				failing := testutil.NewFakeClientWithFailures(h.client, &testutil.FailureConfig{
					OnGet: testutil.FailOnKeyName("external", testutil.ErrNetworkTimeout),
				})
				h.r.Secrets = &secrets.Resolver{Client: failing}
				h.spec.NTSCertificates = []string{"chrony/external"}
			},
			wantErr: testutil.ErrNetworkTimeout,
		},
		"restart fails": {
			setup: func(_ *testing.T, h *harness) {
				h.service.Err = testutil.ErrInjected
			},
			wantErr: testutil.ErrInjected,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			h.spec.Sources = "ntp://example.com"
			tc.setup(t, h)

			_, err := h.r.Reconcile(t.Context(), cert.ConfigChanged{})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Reconcile() error = %v, want %v", err, tc.wantErr)
			}
			if tc.check != nil {
				tc.check(t, h)
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "nts://nts.example.com?iburst=true"
	h.issue(t, "ntp.example.com")

	got, err := h.r.Render(t.Context())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if diff := cmp.Diff(got, h.config(t)); diff != "" {
		t.Errorf("Render() mismatch with the applied config (-got +want):\n%s", diff)
	}

	h.spec.Sources = ""
	if _, err := h.r.Render(t.Context()); !errors.Is(err, chrony.ErrNoSources) {
		t.Errorf("Render() error = %v, want %v", err, chrony.ErrNoSources)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.spec.Sources = "ntp://example.com:123, nts://nts.example.com:4461"
	h.issue(t, "ntp.example.com")
	csr, _ := h.slot(t, keychain.SlotCSR)

	got, err := h.r.Status(t.Context())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Certificate.NotAfter == "" {
		t.Error("Status() has no certificate expiry")
	}
	got.Certificate.NotAfter = ""

	want := chronyv1alpha1.ChronyStatus{
		Phase:   chronyv1alpha1.PhaseActive,
		Sources: []string{"ntp://example.com:123", "nts://nts.example.com:4461"},
		Certificate: chronyv1alpha1.CertificateStatus{
			ServerName:    "ntp.example.com",
			HasPrivateKey: true,
			Request:       ca.ObjectName(csr),
			Issued:        true,
		},
		StoredCertificates: 1,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Status() mismatch (-got +want):\n%s", diff)
	}

	h.spec.Sources = "https://example.com"
	got, err = h.r.Status(t.Context())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.Phase != chronyv1alpha1.PhaseBlocked || !strings.HasPrefix(got.Message, chronyv1alpha1.MessageInvalidSource) {
		t.Errorf("Status() = %v %q, want Blocked with an invalid source message", got.Phase, got.Message)
	}
}
