// Package config loads the operator intent from a YAML file and
// CHRONY_OPERATOR_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"sigs.k8s.io/controller-runtime/pkg/log"

	chronyv1alpha1 "github.com/numtide/chrony-operator/api/v1alpha1"
	"github.com/numtide/chrony-operator/pkg/cert"
)

const (
	// DefaultPath is the intent file read when no path is given.
	DefaultPath = "/etc/chrony-operator/config.yaml"
	// EnvPrefix prefixes environment variables overriding file keys, for
	// example CHRONY_OPERATOR_SERVER_NAME or CHRONY_OPERATOR_CA_ENABLED.
	EnvPrefix = "CHRONY_OPERATOR"
)

// Configuration keys.
const (
	KeySources         = "sources"
	KeyServerName      = "server-name"
	KeyNTSCertificates = "nts-certificates"
	KeyCAEnabled       = "ca.enabled"
	KeyCASignerName    = "ca.signer-name"
	KeyCALabels        = "ca.labels"
)

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeySources, "")
	v.SetDefault(KeyServerName, "")
	v.SetDefault(KeyCAEnabled, false)
	return v
}

// Load reads the intent at path. A missing file yields the environment
// overrides on top of an empty configuration.
func Load(path string) (chronyv1alpha1.ChronyConfigSpec, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return chronyv1alpha1.ChronyConfigSpec{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return decode(v), nil
}

func decode(v *viper.Viper) chronyv1alpha1.ChronyConfigSpec {
	labels := v.GetStringMapString(KeyCALabels)
	if len(labels) == 0 {
		labels = nil
	}
	return chronyv1alpha1.ChronyConfigSpec{
		Sources:         strings.Join(stringList(v, KeySources), ","),
		ServerName:      strings.TrimSpace(v.GetString(KeyServerName)),
		NTSCertificates: stringList(v, KeyNTSCertificates),
		CA: chronyv1alpha1.CASpec{
			Enabled:    v.GetBool(KeyCAEnabled),
			SignerName: strings.TrimSpace(v.GetString(KeyCASignerName)),
			Labels:     labels,
		},
	}
}

// stringList accepts both a YAML list and a comma-separated string. Entries
// are trimmed and empty entries are dropped.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case nil:
	case string:
		raw = strings.Split(value, ",")
	case []string:
		raw = value
	case []any:
		for _, item := range value {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(value)}
	}

	var list []string
	for _, entry := range raw {
		if entry = strings.TrimSpace(entry); entry != "" {
			list = append(list, entry)
		}
	}
	return list
}

// Watcher emits ConfigChanged whenever the intent file is written.
type Watcher struct {
	Path string
}

// Start watches the file until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, events chan<- cert.Event) error {
	logger := log.FromContext(ctx).WithName("config-watcher")
	v := newViper(w.Path)
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("configuration file changed", "file", e.Name, "op", e.Op.String())
		select {
		case events <- cert.ConfigChanged{}:
		case <-ctx.Done():
		}
	})
	v.WatchConfig()
	<-ctx.Done()
	return nil
}
