/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"os"
	"time"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/numtide/chrony-operator/internal/config"
	"github.com/numtide/chrony-operator/pkg/chrony"
	"github.com/numtide/chrony-operator/pkg/keychain"
)

var setupLog = ctrl.Log.WithName("setup")

// options holds the operator flags shared by every subcommand.
type options struct {
	configFile   string
	chronyConfig string
	certsDir     string
	keychainDir  string
	chronyUser   string
	serviceName  string
	systemctl    string
	kubeconfig   string
	metricsAddr  string
	resync       time.Duration
	zap          zap.Options
}

func newRootCommand() *cobra.Command {
	opts := &options{zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:   "chrony-operator",
		Short: "Manage the chrony configuration and NTS certificates of a host",
		Long: `Manage the chrony configuration and NTS certificates of a host.

The operator renders /etc/chrony/chrony.conf from a list of time source URLs,
keeps the NTS server certificates in /etc/chrony/certs and restarts chrony
only when something changed. With a certificate authority configured it
requests, renews and revokes the certificate of the configured server name.

Commands:
  run        Reconcile on every event until terminated
  reconcile  Run a single reconciliation pass
  render     Print the chrony configuration that would be applied
  status     Print the operational status as YAML
  install    Prepare the host and run the first pass`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zap), zap.WriteTo(cmd.ErrOrStderr())))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", config.DefaultPath, "Operator configuration file")
	flags.StringVar(&opts.chronyConfig, "chrony-config", chrony.DefaultConfigFile, "chrony configuration file to manage")
	flags.StringVar(&opts.certsDir, "certs-dir", chrony.DefaultCertsDir, "Directory holding the NTS server certificates")
	flags.StringVar(&opts.keychainDir, "keychain-dir", keychain.DefaultBaseDir, "Directory holding the certificate lifecycle state")
	flags.StringVar(&opts.chronyUser, "chrony-user", "_chrony", "Owner of the certificate directory, empty to keep the process owner")
	flags.StringVar(&opts.serviceName, "service-name", chrony.DefaultServiceName, "systemd unit restarted after a change")
	flags.StringVar(&opts.systemctl, "systemctl", "systemctl", "systemctl binary")
	flags.StringVar(&opts.kubeconfig, "kubeconfig", "", "Kubeconfig of the cluster holding the certificate authority and NTS secrets")
	flags.StringVar(&opts.metricsAddr, "metrics-bind-address", ":8080", "The address the metrics endpoint binds to. Use 0 to disable it.")
	flags.DurationVar(&opts.resync, "resync-interval", 10*time.Minute, "Interval of unconditional reconciliation passes, 0 disables them")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(zapFlags)
	flags.AddGoFlagSet(zapFlags)

	cmd.AddCommand(
		newRunCommand(opts),
		newReconcileCommand(opts),
		newRenderCommand(opts),
		newStatusCommand(opts),
		newInstallCommand(opts),
	)
	return cmd
}

func main() {
	if err := newRootCommand().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		os.Exit(1)
	}
}
