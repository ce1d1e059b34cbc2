// Package controller runs reconciliation passes for one host. A pass turns
// one event into a certificate lifecycle transition, executes the resulting
// certificate authority requests, persists the keychain and applies the
// chrony configuration.
package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/pkg/ca"
	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/chrony"
	"github.com/numtide/chrony-operator/pkg/keychain"
	"github.com/numtide/chrony-operator/pkg/monitoring"
	"github.com/numtide/chrony-operator/pkg/util/status"
)

// ErrNoCertificateAuthority is returned when a certificate request must be
// sent but no certificate authority is configured.
var ErrNoCertificateAuthority = errors.New("no certificate authority configured")

// SecretResolver returns the externally supplied key pairs for refs.
type SecretResolver interface {
	Resolve(ctx context.Context, refs []string) ([]chrony.TLSKeyPair, error)
}

// Reconciler drives chrony and the self-managed certificate of one host.
// Passes must not run concurrently.
type Reconciler struct {
	Chrony   *chrony.Chrony
	Keychain *keychain.Keychain
	Certs    *cert.Reconciler
	// Requester is nil when the host has no certificate authority. The
	// integration is never active without one.
	Requester ca.Requester
	// Secrets is nil when external credentials cannot be resolved.
	Secrets SecretResolver
	// Config returns the current intent.
	Config func() (chronyv1alpha1.ChronyConfigSpec, error)
}

// Result is the outcome of one pass.
type Result struct {
	Phase   chronyv1alpha1.Phase
	Message string
	// Changed is true when chrony was reconfigured and restarted.
	Changed bool
	// Effects are the certificate lifecycle effects executed by the pass.
	Effects []cert.Effect
}

func (r *Reconciler) intent(spec chronyv1alpha1.ChronyConfigSpec) cert.Intent {
	return cert.Intent{
		ServerName:        spec.ServerName,
		IntegrationActive: spec.CA.Enabled && r.Requester != nil,
	}
}

// Reconcile runs one pass for event. Invalid time sources reject the pass
// before any state changes. Missing sources leave chrony untouched and are
// reported as the Blocked phase.
func (r *Reconciler) Reconcile(ctx context.Context, event cert.Event) (res Result, err error) {
	start := time.Now()
	ctx, span := monitoring.StartReconcileSpan(ctx, "Chrony.Reconcile", event.Name(), filepath.Base(r.Keychain.Dir))
	defer span.End()
	ctx = monitoring.EnrichLoggerWithTrace(ctx)
	logger := log.FromContext(ctx).WithValues("event", event.Name())
	ctx = log.IntoContext(ctx, logger)
	logger.V(1).Info("reconcile started")

	defer func() {
		if err != nil {
			monitoring.RecordSpanError(span, err)
		}
		if res.Phase != "" {
			monitoring.SetPhase(string(res.Phase))
		}
		monitoring.RecordReconcile(event.Name(), err, time.Since(start))
		logger.V(1).Info("reconcile complete", "duration", time.Since(start).String(), "phase", res.Phase)
	}()

	spec, err := r.Config()
	if err != nil {
		return res, fmt.Errorf("failed to load configuration: %w", err)
	}
	sources, err := chrony.ParseSources(spec.Sources)
	if err != nil {
		res.Phase, res.Message = status.InvalidSources(err)
		return res, fmt.Errorf("failed to parse time sources: %w", err)
	}

	state, err := r.Keychain.Load()
	if err != nil {
		return res, fmt.Errorf("failed to load keychain: %w", err)
	}
	intent := r.intent(spec)
	next, effects, err := r.Certs.Reconcile(state, intent, event)
	if err != nil {
		return res, fmt.Errorf("failed to reconcile certificate state: %w", err)
	}
	if _, ok := event.(cert.IntegrationBroken); ok {
		intent.IntegrationActive = false
	}
	res.Effects = effects

	if err := r.request(ctx, effects); err != nil {
		return res, err
	}
	if err := r.Keychain.Save(next); err != nil {
		return res, fmt.Errorf("failed to save keychain: %w", err)
	}

	if len(sources) == 0 {
		logger.Info("no time source configured, leaving chrony untouched")
		res.Phase, res.Message = status.ComputePhase(0, intent, next)
		return res, nil
	}

	external, err := r.external(ctx, spec.NTSCertificates)
	if err != nil {
		return res, err
	}
	selfManaged := cert.KeyPairs(next)
	monitoring.SetCertificates(len(external), len(selfManaged))

	cfg, err := r.Chrony.NewConfig(sources, cert.Aggregate(external, next))
	if err != nil {
		return res, fmt.Errorf("failed to build chrony config: %w", err)
	}
	if res.Changed, err = r.Chrony.Apply(ctx, cfg); err != nil {
		return res, fmt.Errorf("failed to apply chrony config: %w", err)
	}

	res.Phase, res.Message = status.ComputePhase(len(sources), intent, next)
	return res, nil
}

// request sends the certificate authority requests among effects, in order.
func (r *Reconciler) request(ctx context.Context, effects []cert.Effect) error {
	logger := log.FromContext(ctx)
	for _, effect := range effects {
		if _, ok := effect.(cert.Apply); ok {
			continue
		}
		if r.Requester == nil {
			return ErrNoCertificateAuthority
		}

		var err error
		switch e := effect.(type) {
		case cert.RequestCreation:
			logger.Info("requesting certificate")
			err = r.Requester.RequestCreation(ctx, e.CSR)
		case cert.RequestRenewal:
			logger.Info("requesting certificate renewal")
			err = r.Requester.RequestRenewal(ctx, e.OldCSR, e.NewCSR)
		case cert.RequestRevocation:
			logger.Info("requesting certificate revocation")
			err = r.Requester.RequestRevocation(ctx, e.CSR)
		default:
			err = fmt.Errorf("unsupported effect %T", effect)
		}
		if err != nil {
			return fmt.Errorf("failed to send certificate request: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) external(ctx context.Context, refs []string) ([]chrony.TLSKeyPair, error) {
	if r.Secrets == nil || len(refs) == 0 {
		return nil, nil
	}
	pairs, err := r.Secrets.Resolve(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve NTS certificates: %w", err)
	}
	return pairs, nil
}
