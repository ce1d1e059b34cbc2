package chrony

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// DefaultServiceName is the systemd unit of the chrony daemon.
const DefaultServiceName = "chrony"

// ServiceController restarts the time daemon after its configuration changed.
type ServiceController interface {
	Restart(ctx context.Context) error
}

// Systemd restarts a unit through systemctl.
type Systemd struct {
	Unit string
	// Systemctl overrides the systemctl binary. Defaults to "systemctl" on PATH.
	Systemctl string
}

// Restart runs "systemctl restart <unit>" and waits for it to finish.
func (s *Systemd) Restart(ctx context.Context) error {
	unit := s.Unit
	if unit == "" {
		unit = DefaultServiceName
	}
	bin := s.Systemctl
	if bin == "" {
		bin = "systemctl"
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "restart", unit)
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.FromContext(ctx).V(1).Info("restarting service", "unit", unit)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to restart %s: %w: %s", unit, err, strings.TrimSpace(out.String()))
	}
	return nil
}
