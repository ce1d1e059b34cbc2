package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/internal/controller"
	"github.com/numtide/chrony-operator/pkg/cert"
)

func newReconcileCommand(opts *options) *cobra.Command {
	var eventName string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation pass",
		Long: `Run a single reconciliation pass for one event and exit.

Events:
  install, config-changed, secret-changed, integration-created,
  integration-broken, certificate-expiring, certificate-invalidated

Examples:
  # Apply a new configuration
  chrony-operator reconcile --event config-changed

  # Drop the self-managed certificate after the CA was removed
  chrony-operator reconcile --event integration-broken`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			event, err := cert.EventByName(eventName)
			if err != nil {
				return err
			}
			op, err := opts.build()
			if err != nil {
				return err
			}
			res, err := op.reconcile(cmd.Context(), event)
			printResult(cmd, res)
			return err
		},
	}
	cmd.Flags().StringVarP(&eventName, "event", "e", cert.ConfigChanged{}.Name(), "Event that triggered the pass")
	return cmd
}

func newInstallCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Prepare the host and run the first pass",
		Long: `Prepare the host and run the first pass.

Creates the private key of the self-managed certificate and applies the
configuration if time sources are configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := opts.build()
			if err != nil {
				return err
			}
			printResult(cmd, controller.Result{
				Phase:   chronyv1alpha1.PhaseMaintenance,
				Message: chronyv1alpha1.MessageInstalling,
			})
			res, err := op.reconcile(cmd.Context(), cert.Install{})
			printResult(cmd, res)
			return err
		},
	}
}

func newRenderCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Print the chrony configuration that would be applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := opts.build()
			if err != nil {
				return err
			}
			content, err := op.reconciler.Render(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), content)
			return err
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the operational status as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := opts.build()
			if err != nil {
				return err
			}
			st, err := op.reconciler.Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(st); err != nil {
				return fmt.Errorf("failed to encode status: %w", err)
			}
			return enc.Close()
		},
	}
}

func printResult(cmd *cobra.Command, res controller.Result) {
	if res.Phase == "" {
		return
	}
	if res.Message != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Phase, res.Message)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Phase)
}
