// Package secrets resolves externally supplied NTS server credentials from
// kubernetes.io/tls Secrets.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/chrony"
)

// DefaultPollInterval is how often Watcher resolves the references.
const DefaultPollInterval = time.Minute

// ErrInvalidRef is returned for a reference not of the form namespace/name.
var ErrInvalidRef = errors.New("invalid secret reference")

// ParseRef parses a "namespace/name" secret reference.
func ParseRef(ref string) (types.NamespacedName, error) {
	namespace, name, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || namespace == "" || name == "" || strings.Contains(name, "/") {
		return types.NamespacedName{}, fmt.Errorf("%w: %q: expected namespace/name", ErrInvalidRef, ref)
	}
	return types.NamespacedName{Namespace: namespace, Name: name}, nil
}

// Resolver reads key pairs from Secrets.
type Resolver struct {
	Client client.Client
}

// Resolve returns the key pairs of refs in order. Malformed references,
// missing Secrets and Secrets without a certificate and key are skipped.
// Any other API error is returned.
func (r *Resolver) Resolve(ctx context.Context, refs []string) ([]chrony.TLSKeyPair, error) {
	logger := log.FromContext(ctx)
	var pairs []chrony.TLSKeyPair
	for _, ref := range refs {
		key, err := ParseRef(ref)
		if err != nil {
			logger.Error(err, "skipping NTS certificate reference")
			continue
		}

		secret := &corev1.Secret{}
		if err := r.Client.Get(ctx, key, secret); err != nil {
			if apierrors.IsNotFound(err) {
				logger.Info("NTS certificate secret not found, skipping", "secret", key.String())
				continue
			}
			return nil, fmt.Errorf("failed to get secret %s: %w", key, err)
		}

		crt, tlsKey := secret.Data[corev1.TLSCertKey], secret.Data[corev1.TLSPrivateKeyKey]
		if len(crt) == 0 || len(tlsKey) == 0 {
			logger.Info("NTS certificate secret has no certificate or key, skipping",
				"secret", key.String(), "type", secret.Type)
			continue
		}
		pairs = append(pairs, chrony.TLSKeyPair{Certificate: string(crt), Key: string(tlsKey)})
	}
	return pairs, nil
}

// Watcher emits SecretChanged when the resolved key pairs change.
type Watcher struct {
	Resolver *Resolver
	// Refs returns the configured references.
	Refs func() []string
	// Interval defaults to DefaultPollInterval.
	Interval time.Duration

	digest string
}

func digest(pairs []chrony.TLSKeyPair) string {
	h := sha256.New()
	for _, p := range pairs {
		fmt.Fprintf(h, "%d:%s%d:%s", len(p.Certificate), p.Certificate, len(p.Key), p.Key)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check resolves the references and returns SecretChanged if the result
// differs from the previous check. The first check only records the state.
func (w *Watcher) Check(ctx context.Context) (cert.Event, error) {
	pairs, err := w.Resolver.Resolve(ctx, w.Refs())
	if err != nil {
		return nil, err
	}
	current := digest(pairs)
	previous := w.digest
	w.digest = current
	if previous == "" || previous == current {
		return nil, nil
	}
	return cert.SecretChanged{}, nil
}

// Start runs the poll loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, events chan<- cert.Event) error {
	logger := log.FromContext(ctx).WithName("secret-watcher")
	interval := w.Interval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if _, err := w.Check(ctx); err != nil {
		logger.Error(err, "initial secret resolution failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			event, err := w.Check(ctx)
			if err != nil {
				logger.Error(err, "secret resolution failed")
				continue
			}
			if event == nil {
				continue
			}
			logger.Info("NTS certificate secrets changed")
			select {
			case events <- event:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
