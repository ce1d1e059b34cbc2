package controller

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/ptr"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/pkg/ca"
	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/chrony"
	"github.com/numtide/chrony-operator/pkg/util/status"
)

// Render returns the chrony configuration the current intent and keychain
// produce. Nothing is written and no certificate is requested.
func (r *Reconciler) Render(ctx context.Context) (string, error) {
	spec, err := r.Config()
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	sources, err := chrony.ParseSources(spec.Sources)
	if err != nil {
		return "", fmt.Errorf("failed to parse time sources: %w", err)
	}
	state, err := r.Keychain.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load keychain: %w", err)
	}
	external, err := r.external(ctx, spec.NTSCertificates)
	if err != nil {
		return "", err
	}
	cfg, err := r.Chrony.NewConfig(sources, cert.Aggregate(external, state))
	if err != nil {
		return "", err
	}
	return cfg.Render(r.Chrony.Store), nil
}

// Status reports the phase of the host and its certificate state without
// changing anything.
func (r *Reconciler) Status(_ context.Context) (chronyv1alpha1.ChronyStatus, error) {
	var st chronyv1alpha1.ChronyStatus

	spec, err := r.Config()
	if err != nil {
		return st, fmt.Errorf("failed to load configuration: %w", err)
	}
	state, err := r.Keychain.Load()
	if err != nil {
		return st, fmt.Errorf("failed to load keychain: %w", err)
	}
	stored, err := r.Chrony.Store.Read()
	if err != nil {
		return st, err
	}
	st.StoredCertificates = len(stored)
	st.Certificate = certificateStatus(state)

	sources, err := chrony.ParseSources(spec.Sources)
	if err != nil {
		st.Phase, st.Message = status.InvalidSources(err)
		return st, nil
	}
	for _, source := range sources {
		st.Sources = append(st.Sources, source.URL())
	}
	st.Phase, st.Message = status.ComputePhase(len(sources), r.intent(spec), state)
	return st, nil
}

func certificateStatus(state cert.State) chronyv1alpha1.CertificateStatus {
	cs := chronyv1alpha1.CertificateStatus{
		ServerName:    ptr.Deref(state.ServerName, ""),
		HasPrivateKey: ptr.Deref(state.PrivateKey, "") != "",
	}
	if csr := ptr.Deref(state.CSR, ""); csr != "" {
		cs.Request = ca.ObjectName(csr)
	}
	if chain := ptr.Deref(state.Chain, ""); chain != "" {
		cs.Issued = true
		if leaf, err := cert.ParseLeaf(chain); err == nil {
			cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
		}
	}
	return cs
}
