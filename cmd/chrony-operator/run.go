package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/numtide/chrony-operator/internal/config"
	"github.com/numtide/chrony-operator/pkg/ca"
	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/keychain"
	"github.com/numtide/chrony-operator/pkg/monitoring"
	"github.com/numtide/chrony-operator/pkg/secrets"
)

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile on every event until terminated",
		Long: `Reconcile on every event until terminated.

Events are configuration file changes, SIGHUP, certificate authority
decisions, NTS secret changes, certificate expiry and the periodic resync.
They are processed one at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := opts.build()
			if err != nil {
				return err
			}
			return op.run(cmd.Context())
		},
	}
}

// source produces events until its context is cancelled.
type source interface {
	Start(ctx context.Context, events chan<- cert.Event) error
}

// forgetter is a source that reports each outcome once. Forget makes it
// report the last outcome again.
type forgetter interface {
	Forget()
}

func (op *operator) sources() []source {
	sources := []source{
		&config.Watcher{Path: op.opts.configFile},
		&cert.ExpiryMonitor{Chain: op.keychain.Chain},
		&signalSource{signals: []os.Signal{syscall.SIGHUP}},
	}
	if op.opts.resync > 0 {
		sources = append(sources, &ticker{interval: op.opts.resync})
	}
	if op.client != nil {
		sources = append(sources,
			&ca.Watcher{
				Client: op.client,
				CSR:    func() (string, bool, error) { return op.keychain.Get(keychain.SlotCSR) },
			},
			&secrets.Watcher{
				Resolver: &secrets.Resolver{Client: op.client},
				Refs: func() []string {
					spec, err := config.Load(op.opts.configFile)
					if err != nil {
						return nil
					}
					return spec.NTSCertificates
				},
			},
		)
	}
	return sources
}

// run processes events one pass at a time until ctx is cancelled.
func (op *operator) run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("operator")
	ctx = log.IntoContext(ctx, logger)

	events := make(chan cert.Event)
	sources := op.sources()
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sources {
		g.Go(func() error { return s.Start(ctx, events) })
	}
	g.Go(func() error { return monitoring.Serve(ctx, op.opts.metricsAddr) })
	g.Go(func() error {
		op.loop(ctx, events, sources)
		return nil
	})

	logger.Info("starting operator", "config", op.opts.configFile, "chronyConfig", op.opts.chronyConfig)
	return g.Wait()
}

// loop drains events. Configuration changes that toggle the certificate
// authority integration are reported as integration events. After a failed
// pass every source forgets its last outcome so it is delivered again.
func (op *operator) loop(ctx context.Context, events <-chan cert.Event, sources []source) {
	active := false
	next := func(event cert.Event) cert.Event {
		if _, ok := event.(cert.ConfigChanged); !ok {
			return event
		}
		spec, err := op.reconciler.Config()
		if err != nil {
			return event
		}
		event, active = integrationEvent(active, op.integrationActive(spec), event)
		return event
	}

	// Errors are logged by reconcile and retried on the next event.
	pass := func(event cert.Event) {
		if _, err := op.reconcile(ctx, next(event)); err != nil {
			for _, s := range sources {
				if f, ok := s.(forgetter); ok {
					f.Forget()
				}
			}
		}
	}

	pass(cert.ConfigChanged{})
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			pass(event)
		}
	}
}

// integrationEvent returns the event to reconcile when the integration moves
// from was to is, together with the new integration state.
func integrationEvent(was, is bool, event cert.Event) (cert.Event, bool) {
	switch {
	case is && !was:
		return cert.IntegrationCreated{}, is
	case was && !is:
		return cert.IntegrationBroken{}, is
	default:
		return event, is
	}
}

// signalSource emits ConfigChanged for every received signal.
type signalSource struct {
	signals []os.Signal
}

func (s *signalSource) Start(ctx context.Context, events chan<- cert.Event) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.signals...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			log.FromContext(ctx).Info("reloading configuration", "signal", sig.String())
			select {
			case events <- cert.ConfigChanged{}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ticker emits ConfigChanged at a fixed interval.
type ticker struct {
	interval time.Duration
}

func (t *ticker) Start(ctx context.Context, events chan<- cert.Event) error {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			select {
			case events <- cert.ConfigChanged{}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
