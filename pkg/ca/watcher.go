package ca

import (
	"context"
	"fmt"
	"sync"
	"time"

	certificatesv1 "k8s.io/api/certificates/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/chrony-operator/pkg/cert"
)

// DefaultPollInterval is how often Watcher reads the outstanding request.
const DefaultPollInterval = 30 * time.Second

// Watcher reports the outcome of the outstanding certificate request.
type Watcher struct {
	Client client.Client
	// CSR returns the stored CSR, if any.
	CSR func() (string, bool, error)
	// Interval defaults to DefaultPollInterval.
	Interval time.Duration

	mu       sync.Mutex
	reported string
}

// Poll returns the event for the object of csr, or nil while it is pending.
func (w *Watcher) Poll(ctx context.Context, csr string) (cert.Event, error) {
	obj := &certificatesv1.CertificateSigningRequest{}
	if err := w.Client.Get(ctx, client.ObjectKey{Name: ObjectName(csr)}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get certificate signing request: %w", err)
	}

	for _, cond := range obj.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		if cond.Type == certificatesv1.CertificateDenied || cond.Type == certificatesv1.CertificateFailed {
			log.FromContext(ctx).Info("certificate signing request rejected",
				"name", obj.Name, "condition", cond.Type, "reason", cond.Reason, "message", cond.Message)
			return cert.CertificateInvalidated{}, nil
		}
	}
	if len(obj.Status.Certificate) > 0 {
		return cert.CertificateAvailable{CSR: csr, Chain: string(obj.Status.Certificate)}, nil
	}
	return nil, nil
}

// Check polls the stored CSR and returns an event that was not reported
// before for that CSR.
func (w *Watcher) Check(ctx context.Context) (cert.Event, error) {
	csr, ok, err := w.CSR()
	if err != nil || !ok || csr == "" {
		return nil, err
	}
	event, err := w.Poll(ctx, csr)
	if err != nil || event == nil {
		return nil, err
	}
	key := ObjectName(csr) + "/" + event.Name()
	w.mu.Lock()
	defer w.mu.Unlock()
	if key == w.reported {
		return nil, nil
	}
	w.reported = key
	return event, nil
}

// Forget drops the last reported outcome so the next Check reports it again.
// It is called when the pass handling the outcome failed.
func (w *Watcher) Forget() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reported = ""
}

// Start runs the poll loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, events chan<- cert.Event) error {
	logger := log.FromContext(ctx).WithName("ca-watcher")
	interval := w.Interval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			event, err := w.Check(ctx)
			if err != nil {
				logger.Error(err, "certificate request poll failed")
				continue
			}
			if event == nil {
				continue
			}
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
