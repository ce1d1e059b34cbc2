package chrony

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/chrony-operator/pkg/monitoring"
)

const (
	// DefaultConfigFile is the chrony configuration file managed by the operator.
	DefaultConfigFile = "/etc/chrony/chrony.conf"
	// DefaultCertsDir is the certificate store referenced by ntsservercert directives.
	DefaultCertsDir = "/etc/chrony/certs"
)

// ErrNoSources is returned when a configuration is requested without any time source.
var ErrNoSources = errors.New("no time sources provided")

// staticDirectives is appended to every generated configuration.
var staticDirectives = strings.Join([]string{
	"bindcmdaddress 127.0.0.1",
	"driftfile /var/lib/chrony/chrony.drift",
	"ntsdumpdir /var/lib/chrony",
	"logdir /var/log/chrony",
	"maxupdateskew 100.0",
	"rtcsync",
	"makestep 1 3",
	"leapsectz right/UTC",
	"allow 0.0.0.0/0",
	"allow ::/0",
}, "\n") + "\n"

// Config is the desired state of the chrony daemon.
type Config struct {
	Sources  []TimeSource
	KeyPairs []TLSKeyPair
}

// Render returns the chrony.conf content for c. Certificate directives
// reference the numbered files of store. The output only depends on its
// inputs.
func (c Config) Render(store *Store) string {
	lines := make([]string, 0, len(c.Sources))
	for _, source := range c.Sources {
		lines = append(lines, source.Render())
	}
	sections := []string{strings.Join(lines, "\n")}

	if len(c.KeyPairs) > 0 {
		certs := make([]string, 0, 2*len(c.KeyPairs))
		for idx := range c.KeyPairs {
			certs = append(certs,
				"ntsservercert "+store.CertPath(idx),
				"ntsserverkey "+store.KeyPath(idx),
			)
		}
		sections = append(sections, strings.Join(certs, "\n"))
	}

	sections = append(sections, staticDirectives)
	return strings.Join(slices.DeleteFunc(sections, func(s string) bool { return s == "" }), "\n\n")
}

// Chrony manages the chrony configuration file and certificate store.
type Chrony struct {
	ConfigFile string
	Store      *Store
	Service    ServiceController
}

// NewConfig validates the inputs of a configuration.
func (c *Chrony) NewConfig(sources []TimeSource, keyPairs []TLSKeyPair) (Config, error) {
	if len(sources) == 0 {
		return Config{}, ErrNoSources
	}
	return Config{Sources: sources, KeyPairs: keyPairs}, nil
}

// ReadConfig returns the current configuration file content. A missing file
// reads as empty.
func (c *Chrony) ReadConfig() (string, error) {
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read chrony config: %w", err)
	}
	return string(data), nil
}

// WriteConfig replaces the configuration file content.
func (c *Chrony) WriteConfig(content string) error {
	if err := os.WriteFile(c.ConfigFile, []byte(content), 0o644); err != nil { //nolint:gosec // chrony.conf is world readable
		return fmt.Errorf("failed to write chrony config: %w", err)
	}
	return nil
}

// Apply brings the configuration file and certificate store to cfg and
// restarts the daemon. Nothing is written and no restart happens when both
// already match. The store is written first so every referenced file exists
// when the new configuration lands.
func (c *Chrony) Apply(ctx context.Context, cfg Config) (bool, error) {
	ctx, span := monitoring.StartChildSpan(ctx, "Chrony.Apply")
	defer span.End()
	logger := log.FromContext(ctx)

	currentConfig, err := c.ReadConfig()
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return false, err
	}
	currentPairs, err := c.Store.Read()
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return false, err
	}

	desired := cfg.Render(c.Store)
	if desired == currentConfig && slices.Equal(currentPairs, cfg.KeyPairs) {
		logger.V(1).Info("chrony config unchanged")
		return false, nil
	}

	logger.Info("chrony config changed, applying and restarting chrony",
		"sources", len(cfg.Sources), "certificates", len(cfg.KeyPairs))
	if err := c.Store.Write(cfg.KeyPairs); err != nil {
		monitoring.RecordSpanError(span, err)
		return false, err
	}
	if err := c.WriteConfig(desired); err != nil {
		monitoring.RecordSpanError(span, err)
		return false, err
	}
	if err := c.Service.Restart(ctx); err != nil {
		monitoring.RecordSpanError(span, err)
		return false, err
	}
	monitoring.RecordRestart()
	return true, nil
}
