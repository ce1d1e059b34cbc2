// Package keychain persists the self-managed certificate state as one file
// per slot under a namespaced directory.
package keychain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/numtide/chrony-operator/pkg/cert"
	"github.com/numtide/chrony-operator/pkg/chrony"
)

const (
	// DefaultBaseDir holds one keychain directory per namespace.
	DefaultBaseDir = "/var/lib/chrony-operator"
	// DefaultNamespace is the keychain of the NTS server certificate.
	DefaultNamespace = "tls-keychain"

	dirMode  fs.FileMode = 0o700
	fileMode fs.FileMode = 0o600
)

// Slot names a value stored in the keychain.
type Slot string

const (
	SlotPrivateKey Slot = "private-key.pem"
	SlotServerName Slot = "server-name"
	SlotCSR        Slot = "csr.pem"
	SlotChain      Slot = "chain.pem"
)

// Slots lists every slot in a stable order.
var Slots = []Slot{SlotPrivateKey, SlotServerName, SlotCSR, SlotChain}

// Keychain is a directory of slot files. A missing file is an unset slot,
// an empty file is a slot set to the empty string.
type Keychain struct {
	Dir string
}

// New returns the keychain for namespace under baseDir.
func New(baseDir, namespace string) *Keychain {
	return &Keychain{Dir: filepath.Join(baseDir, namespace)}
}

func (k *Keychain) path(slot Slot) string {
	return filepath.Join(k.Dir, string(slot))
}

// Get returns the slot value and whether it is set.
func (k *Keychain) Get(slot Slot) (string, bool, error) {
	data, err := os.ReadFile(k.path(slot))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read keychain slot %s: %w", slot, err)
	}
	return string(data), true, nil
}

// Set stores value in slot. The file is replaced atomically.
func (k *Keychain) Set(slot Slot, value string) error {
	if err := os.MkdirAll(k.Dir, dirMode); err != nil {
		return fmt.Errorf("failed to create keychain: %w", err)
	}
	tmp, err := os.CreateTemp(k.Dir, "."+string(slot)+".*")
	if err != nil {
		return fmt.Errorf("failed to write keychain slot %s: %w", slot, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write keychain slot %s: %w", slot, err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod keychain slot %s: %w", slot, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write keychain slot %s: %w", slot, err)
	}
	if err := os.Rename(tmp.Name(), k.path(slot)); err != nil {
		return fmt.Errorf("failed to replace keychain slot %s: %w", slot, err)
	}
	return nil
}

// Delete unsets slot. Deleting an unset slot is a no-op.
func (k *Keychain) Delete(slot Slot) error {
	if err := os.Remove(k.path(slot)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete keychain slot %s: %w", slot, err)
	}
	return nil
}

// Clear unsets the server name, CSR and chain. The private key is kept.
func (k *Keychain) Clear() error {
	for _, slot := range []Slot{SlotServerName, SlotCSR, SlotChain} {
		if err := k.Delete(slot); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every slot into a cert.State.
func (k *Keychain) Load() (cert.State, error) {
	var state cert.State
	for _, slot := range Slots {
		value, ok, err := k.Get(slot)
		if err != nil {
			return cert.State{}, err
		}
		if ok {
			*k.field(&state, slot) = &value
		}
	}
	return state, nil
}

// Save writes the set fields of state and unsets the others. Slots whose
// content is already current are not rewritten.
func (k *Keychain) Save(state cert.State) error {
	for _, slot := range Slots {
		want := *k.field(&state, slot)
		current, ok, err := k.Get(slot)
		if err != nil {
			return err
		}
		switch {
		case want == nil && ok:
			err = k.Delete(slot)
		case want != nil && (!ok || current != *want):
			err = k.Set(slot, *want)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (k *Keychain) field(state *cert.State, slot Slot) **string {
	switch slot {
	case SlotPrivateKey:
		return &state.PrivateKey
	case SlotServerName:
		return &state.ServerName
	case SlotCSR:
		return &state.CSR
	default:
		return &state.Chain
	}
}

// KeyPairs returns the stored key pair if both the chain and the private key
// are present.
func (k *Keychain) KeyPairs() ([]chrony.TLSKeyPair, error) {
	state, err := k.Load()
	if err != nil {
		return nil, err
	}
	return cert.KeyPairs(state), nil
}

// Chain returns the stored chain. It matches cert.ExpiryMonitor.Chain.
func (k *Keychain) Chain() (string, bool, error) {
	return k.Get(SlotChain)
}
