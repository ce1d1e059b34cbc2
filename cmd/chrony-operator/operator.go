package main

import (
	"context"
	"fmt"
	"os"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/internal/config"
	"github.com/numtide/chrony-operator/internal/controller"
	"github.com/numtide/chrony-operator/pkg/ca"
	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/chrony"
	"github.com/numtide/chrony-operator/pkg/keychain"
	"github.com/numtide/chrony-operator/pkg/secrets"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// operator is the wired set of components behind every subcommand.
type operator struct {
	opts       *options
	reconciler *controller.Reconciler
	keychain   *keychain.Keychain
	// client is nil when no cluster is reachable.
	client    client.Client
	requester *ca.KubeRequester
}

func (o *options) restConfig() (*rest.Config, error) {
	if o.kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", o.kubeconfig)
	}
	return ctrl.GetConfig()
}

// build wires the components. A missing cluster only disables the
// certificate authority integration and external NTS certificates.
func (o *options) build() (*operator, error) {
	store := &chrony.Store{Dir: o.certsDir}
	if o.chronyUser != "" {
		owner, err := chrony.LookupOwner(o.chronyUser)
		if err != nil {
			setupLog.Info("certificate directory owner not found, keeping the process owner",
				"user", o.chronyUser, "reason", err.Error())
		} else {
			store.Owner = owner
		}
	}

	op := &operator{
		opts:     o,
		keychain: keychain.New(o.keychainDir, keychain.DefaultNamespace),
	}
	op.reconciler = &controller.Reconciler{
		Chrony: &chrony.Chrony{
			ConfigFile: o.chronyConfig,
			Store:      store,
			Service:    &chrony.Systemd{Unit: o.serviceName, Systemctl: o.systemctl},
		},
		Keychain: op.keychain,
		Certs:    cert.NewReconciler(),
		Config:   op.loadConfig,
	}

	cfg, err := o.restConfig()
	if err != nil {
		setupLog.Info("no cluster configuration, certificate authority and NTS secrets disabled", "reason", err.Error())
		return op, nil
	}
	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	instance, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	op.client = c
	op.requester = &ca.KubeRequester{Client: c, Instance: instance}
	op.reconciler.Requester = op.requester
	op.reconciler.Secrets = &secrets.Resolver{Client: c}
	return op, nil
}

// loadConfig reads the intent and carries the signer settings over to the
// requester. Passes are serialized, so the update never races a request.
func (op *operator) loadConfig() (chronyv1alpha1.ChronyConfigSpec, error) {
	spec, err := config.Load(op.opts.configFile)
	if err != nil {
		return spec, err
	}
	if op.requester != nil {
		op.requester.SignerName = spec.CA.SignerName
		op.requester.Labels = spec.CA.Labels
	}
	return spec, nil
}

// integrationActive reports whether spec activates the certificate authority
// integration on this host.
func (op *operator) integrationActive(spec chronyv1alpha1.ChronyConfigSpec) bool {
	return spec.CA.Enabled && op.requester != nil
}

// reconcile runs one pass and logs its outcome.
func (op *operator) reconcile(ctx context.Context, event cert.Event) (controller.Result, error) {
	logger := log.FromContext(ctx)
	res, err := op.reconciler.Reconcile(ctx, event)
	if err != nil {
		logger.Error(err, "reconcile failed", "event", event.Name(), "phase", res.Phase)
		return res, err
	}
	logger.Info("reconciled", "event", event.Name(), "phase", res.Phase,
		"message", res.Message, "changed", res.Changed)
	return res, nil
}
