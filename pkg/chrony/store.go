package chrony

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

const (
	storeDirMode  fs.FileMode = 0o700
	storeFileMode fs.FileMode = 0o600
)

// TLSKeyPair is a certificate chain and its private key, both PEM encoded.
type TLSKeyPair struct {
	Certificate string
	Key         string
}

// Owner is the numeric owner applied to the certificate store.
type Owner struct {
	UID int
	GID int
}

// LookupOwner resolves a system user name to an Owner using the user's
// primary group.
func LookupOwner(name string) (*Owner, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse uid of %q: %w", name, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gid of %q: %w", name, err)
	}
	return &Owner{UID: uid, GID: gid}, nil
}

// Store materializes an ordered list of key pairs as numbered file pairs
// (0000.crt, 0000.key, 0001.crt, ...) in a dedicated directory.
//
// Index numbering is positional and re-derived from the sorted directory
// listing on every call.
type Store struct {
	Dir string
	// Owner is applied to the directory and to every file written. Nil leaves
	// ownership to the process.
	Owner *Owner
}

// CertPath returns the absolute path of the certificate file at index idx.
func (s *Store) CertPath(idx int) string {
	return s.path(fmt.Sprintf("%04d.crt", idx))
}

// KeyPath returns the absolute path of the key file at index idx.
func (s *Store) KeyPath(idx int) string {
	return s.path(fmt.Sprintf("%04d.key", idx))
}

func (s *Store) path(name string) string {
	p := filepath.Join(s.Dir, name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Read returns the key pairs currently on disk in index order. A trailing
// file without a partner is returned with the missing half empty.
func (s *Store) Read() ([]TLSKeyPair, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	pairs := make([]TLSKeyPair, 0, (len(files)+1)/2)
	for i := 0; i < len(files); i += 2 {
		crt, err := s.readFile(files[i])
		if err != nil {
			return nil, err
		}
		pair := TLSKeyPair{Certificate: crt}
		if i+1 < len(files) {
			if pair.Key, err = s.readFile(files[i+1]); err != nil {
				return nil, err
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// Write makes the store hold exactly the desired key pairs. Every regular
// file outside the numbered pair names is removed first, so stray or
// misnamed files cannot shift the index of a pair. Files whose content
// already matches are left untouched.
func (s *Store) Write(desired []TLSKeyPair) error {
	files, err := s.files()
	if err != nil {
		return err
	}
	names := make(map[string]struct{}, 2*len(desired))
	for idx := range desired {
		names[s.CertPath(idx)] = struct{}{}
		names[s.KeyPath(idx)] = struct{}{}
	}
	for _, path := range files {
		if _, ok := names[path]; ok {
			continue
		}
		if err := s.remove(path); err != nil {
			return err
		}
	}

	for idx, pair := range desired {
		if err := s.update(s.CertPath(idx), pair.Certificate); err != nil {
			return err
		}
		if err := s.update(s.KeyPath(idx), pair.Key); err != nil {
			return err
		}
	}
	return nil
}

// files ensures the store directory exists and returns the absolute paths of
// its regular files in lexicographic order.
func (s *Store) files() ([]string, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	// os.ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificate store: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, s.path(entry.Name()))
		}
	}
	return files, nil
}

func (s *Store) ensureDir() error {
	if err := os.Mkdir(s.Dir, storeDirMode); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create certificate store: %w", err)
	}
	return s.chown(s.Dir)
}

func (s *Store) readFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is inside the managed store
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// update writes content to path unless the file already holds it.
func (s *Store) update(path, content string) error {
	current, err := os.ReadFile(path) //nolint:gosec // path is inside the managed store
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	case string(current) == content:
		return nil
	}
	return s.writeFile(path, content)
}

func (s *Store) writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), storeFileMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// WriteFile only applies the mode on create.
	if err := os.Chmod(path, storeFileMode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return s.chown(path)
}

func (s *Store) remove(paths ...string) error {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (s *Store) chown(path string) error {
	if s.Owner == nil {
		return nil
	}
	if err := os.Chown(path, s.Owner.UID, s.Owner.GID); err != nil {
		return fmt.Errorf("failed to chown %s: %w", path, err)
	}
	return nil
}
