package cert

import (
	"context"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultCheckInterval is how often ExpiryMonitor inspects the chain.
const DefaultCheckInterval = time.Hour

// ExpiryMonitor emits CertificateExpiring when the self-managed chain enters
// the rotation window. Each chain is reported at most once.
type ExpiryMonitor struct {
	// Chain returns the stored chain, if any.
	Chain func() (string, bool, error)
	// Interval defaults to DefaultCheckInterval.
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	reported string
}

// Check returns the event to send for the current chain, or nil.
func (m *ExpiryMonitor) Check(ctx context.Context) (Event, error) {
	chain, ok, err := m.Chain()
	if err != nil || !ok || chain == "" {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if chain == m.reported {
		return nil, nil
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	expiring, err := NeedsRenewal(chain, now())
	if err != nil {
		log.FromContext(ctx).Error(err, "stored chain is unreadable, requesting a new certificate")
		expiring = true
	}
	if !expiring {
		return nil, nil
	}
	m.reported = chain
	return CertificateExpiring{}, nil
}

// Forget drops the last reported chain so the next Check reports it again.
func (m *ExpiryMonitor) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reported = ""
}

// Start runs the check loop until ctx is cancelled.
func (m *ExpiryMonitor) Start(ctx context.Context, events chan<- Event) error {
	logger := log.FromContext(ctx).WithName("expiry-monitor")
	interval := m.Interval
	if interval == 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			event, err := m.Check(ctx)
			if err != nil {
				logger.Error(err, "certificate expiry check failed")
				continue
			}
			if event == nil {
				continue
			}
			logger.Info("certificate is near expiry, requesting renewal")
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
