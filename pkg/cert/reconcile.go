package cert

import (
	"errors"
	"fmt"
	"slices"

	"k8s.io/utils/ptr"

	"github.com/numtide/chrony-operator/pkg/chrony"
)

// ErrNoServerName is returned when a certificate request is built without a
// server name.
var ErrNoServerName = errors.New("no server name configured")

// State is the persisted state of the self-managed certificate. A nil field
// was never set, which is distinct from a field set to the empty string.
type State struct {
	PrivateKey *string
	ServerName *string
	CSR        *string
	Chain      *string
}

// Clear drops the server name, CSR and chain. The private key is kept.
func (s State) Clear() State {
	return State{PrivateKey: s.PrivateKey}
}

// Intent is the operator configuration the certificate lifecycle follows.
type Intent struct {
	// ServerName is the NTS server name to request a certificate for. Empty
	// disables the self-managed certificate.
	ServerName string
	// IntegrationActive is true while a certificate authority integration
	// exists.
	IntegrationActive bool
}

// Event triggers one reconciliation pass.
type Event interface {
	// Name identifies the event kind in logs and metrics.
	Name() string
}

type (
	// Install is sent once when the operator is installed or upgraded.
	Install struct{}
	// ConfigChanged is sent when the operator configuration changed.
	ConfigChanged struct{}
	// SecretChanged is sent when an external credential changed.
	SecretChanged struct{}
	// IntegrationCreated is sent when a certificate authority integration appears.
	IntegrationCreated struct{}
	// IntegrationBroken is sent when the certificate authority integration is removed.
	IntegrationBroken struct{}
	// CertificateAvailable carries a chain signed for CSR.
	CertificateAvailable struct {
		CSR   string
		Chain string
	}
	// CertificateExpiring is sent when the stored chain is close to its expiry.
	CertificateExpiring struct{}
	// CertificateInvalidated is sent when the certificate authority rejected or revoked the certificate.
	CertificateInvalidated struct{}
)

func (Install) Name() string                { return "install" }
func (ConfigChanged) Name() string          { return "config-changed" }
func (SecretChanged) Name() string          { return "secret-changed" }
func (IntegrationCreated) Name() string     { return "integration-created" }
func (IntegrationBroken) Name() string      { return "integration-broken" }
func (CertificateAvailable) Name() string   { return "certificate-available" }
func (CertificateExpiring) Name() string    { return "certificate-expiring" }
func (CertificateInvalidated) Name() string { return "certificate-invalidated" }

// EventByName returns the payload-free event with the given name.
func EventByName(name string) (Event, error) {
	for _, e := range []Event{
		Install{}, ConfigChanged{}, SecretChanged{}, IntegrationCreated{},
		IntegrationBroken{}, CertificateExpiring{}, CertificateInvalidated{},
	} {
		if e.Name() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("unknown event %q", name)
}

// Effect is a side effect requested by Reconcile and executed by the caller.
type Effect interface {
	isEffect()
}

type (
	// RequestCreation asks the certificate authority to sign a first CSR.
	RequestCreation struct{ CSR string }
	// RequestRenewal asks the certificate authority to sign NewCSR in place of OldCSR.
	RequestRenewal struct{ OldCSR, NewCSR string }
	// RequestRevocation asks the certificate authority to revoke the certificate for CSR.
	RequestRevocation struct{ CSR string }
	// Apply re-renders the chrony configuration and certificate store.
	Apply struct{}
)

func (RequestCreation) isEffect()   {}
func (RequestRenewal) isEffect()    {}
func (RequestRevocation) isEffect() {}
func (Apply) isEffect()             {}

// Reconciler computes certificate lifecycle transitions. It performs no I/O.
type Reconciler struct {
	NewPrivateKey func() (string, error)
	NewCSR        func(privateKeyPEM, serverName string) (string, error)
}

// NewReconciler returns a Reconciler generating ECDSA P-256 keys.
func NewReconciler() *Reconciler {
	return &Reconciler{NewPrivateKey: NewPrivateKey, NewCSR: NewCSR}
}

// Reconcile returns the state following event together with the effects the
// caller must execute, in order. The last effect is always Apply.
func (r *Reconciler) Reconcile(state State, intent Intent, event Event) (State, []Effect, error) {
	next := state
	var effects []Effect

	if next.PrivateKey == nil {
		key, err := r.NewPrivateKey()
		if err != nil {
			return state, nil, err
		}
		next.PrivateKey = ptr.To(key)
	}

	switch e := event.(type) {
	case IntegrationBroken:
		next = next.Clear()
		intent.IntegrationActive = false
	case CertificateAvailable:
		// A chain for a superseded CSR is dropped.
		if next.CSR != nil && *next.CSR == e.CSR {
			next.Chain = ptr.To(e.Chain)
		}
	case CertificateExpiring, CertificateInvalidated:
		if intent.ServerName != "" && intent.IntegrationActive {
			var err error
			if next, effects, err = r.issue(next, intent.ServerName, effects); err != nil {
				return state, nil, err
			}
		}
	}

	// Without a server name or an integration no self-managed certificate may
	// be served, including one left over from an earlier run.
	switch {
	case intent.ServerName == "" || !intent.IntegrationActive:
		if next.ServerName != nil || next.CSR != nil || next.Chain != nil {
			if next.CSR != nil && intent.IntegrationActive {
				effects = append(effects, RequestRevocation{CSR: *next.CSR})
			}
			next = next.Clear()
		}
	case next.CSR == nil || ptr.Deref(next.ServerName, "") != intent.ServerName:
		var err error
		if next, effects, err = r.issue(next, intent.ServerName, effects); err != nil {
			return state, nil, err
		}
	}

	return next, append(effects, Apply{}), nil
}

// issue stores a new CSR for serverName and requests its signature. The
// chain is kept so the previous certificate keeps serving until the new one
// arrives.
func (r *Reconciler) issue(state State, serverName string, effects []Effect) (State, []Effect, error) {
	if serverName == "" {
		return state, effects, ErrNoServerName
	}
	csr, err := r.NewCSR(*state.PrivateKey, serverName)
	if err != nil {
		return state, effects, fmt.Errorf("failed to create CSR for %q: %w", serverName, err)
	}
	if state.CSR == nil {
		effects = append(effects, RequestCreation{CSR: csr})
	} else {
		effects = append(effects, RequestRenewal{OldCSR: *state.CSR, NewCSR: csr})
	}
	state.CSR = ptr.To(csr)
	state.ServerName = ptr.To(serverName)
	return state, effects, nil
}

// KeyPairs returns the self-managed key pair once a chain was received.
func KeyPairs(state State) []chrony.TLSKeyPair {
	chain := ptr.Deref(state.Chain, "")
	key := ptr.Deref(state.PrivateKey, "")
	if chain == "" || key == "" {
		return nil
	}
	return []chrony.TLSKeyPair{{Certificate: chain, Key: key}}
}

// Aggregate returns the credentials to serve: external pairs in their
// configured order followed by the self-managed pair.
func Aggregate(external []chrony.TLSKeyPair, state State) []chrony.TLSKeyPair {
	return append(slices.Clone(external), KeyPairs(state)...)
}
