// Package registry provides the file-backed lookup of the parties known to a
// wallet or verifier deployment: credential issuers, verifiers and holder
// wallets. The config file is a single JSON document that operators may edit
// by hand; Reload picks up external edits, and mutations rewrite the file
// atomically so a concurrent reader never observes a partial document.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-errors/errors"
	"github.com/sirupsen/logrus"
)

// Kind discriminates the three registries held in one config file.
type Kind string

const (
	KindIssuer   Kind = "issuers"
	KindVerifier Kind = "verifiers"
	KindWallet   Kind = "wallets"
)

// Entry describes a registered party. Which path fields are populated depends
// on the kind: wallets carry PresentPath/ReceivePath, issuers carry
// AuthorizePath/TokenPath/ReceivePath.
type Entry struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PresentPath   string `json:"presentPath,omitempty"`
	ReceivePath   string `json:"receivePath,omitempty"`
	AuthorizePath string `json:"authorizePath,omitempty"`
	TokenPath     string `json:"tokenPath,omitempty"`
	Description   string `json:"description,omitempty"`
}

var (
	ErrNotFound = errors.New("no registry entry with this id")
	ErrExists   = errors.New("registry entry with this id already exists")
)

// Registry is the parsed contents of one registry config file.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries map[Kind]map[string]Entry
	logger  *logrus.Logger
}

type fileFormat struct {
	Issuers   map[string]Entry `json:"issuers,omitempty"`
	Verifiers map[string]Entry `json:"verifiers,omitempty"`
	Wallets   map[string]Entry `json:"wallets,omitempty"`
}

// Load reads the registry config file at path. A missing file yields an empty
// registry; Add will create it.
func Load(path string, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Registry{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the config file, replacing the in-memory state. Lookups
// between an external file edit and the next Reload may observe stale entries;
// handlers that need freshness call Reload first.
func (r *Registry) Reload() error {
	var parsed fileFormat
	bts, err := os.ReadFile(r.path)
	switch {
	case os.IsNotExist(err):
		r.logger.WithField("path", r.path).Debug("Registry config file does not exist, starting empty")
	case err != nil:
		return errors.WrapPrefix(err, "failed to read registry config", 0)
	default:
		if err := json.Unmarshal(bts, &parsed); err != nil {
			return errors.WrapPrefix(err, "failed to parse registry config", 0)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[Kind]map[string]Entry{
		KindIssuer:   normalized(parsed.Issuers),
		KindVerifier: normalized(parsed.Verifiers),
		KindWallet:   normalized(parsed.Wallets),
	}
	return nil
}

func normalized(entries map[string]Entry) map[string]Entry {
	result := make(map[string]Entry, len(entries))
	for id, entry := range entries {
		entry.ID = id
		result[id] = entry
	}
	return result
}

// Resolve returns the entry with the given id, or ErrNotFound.
func (r *Registry) Resolve(kind Kind, id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[kind][id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// List returns all entries of a kind.
func (r *Registry) List(kind Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.entries[kind]))
	for _, entry := range r.entries[kind] {
		entries = append(entries, entry)
	}
	return entries
}

// Add registers a new entry and persists the registry. Fails with ErrExists
// if the id is already taken.
func (r *Registry) Add(kind Kind, entry Entry) error {
	if entry.ID == "" {
		return errors.New("registry entry without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[kind][entry.ID]; ok {
		return ErrExists
	}
	r.entries[kind][entry.ID] = entry
	return r.save()
}

// Remove deletes an entry and persists the registry.
func (r *Registry) Remove(kind Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[kind][id]; !ok {
		return ErrNotFound
	}
	delete(r.entries[kind], id)
	return r.save()
}

// save writes the registry to a temp file in the target directory and renames
// it over the config file, so readers see either the old or the new document.
// Caller must hold the write lock.
func (r *Registry) save() error {
	bts, err := json.MarshalIndent(fileFormat{
		Issuers:   r.entries[KindIssuer],
		Verifiers: r.entries[KindVerifier],
		Wallets:   r.entries[KindWallet],
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, 0)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, 0)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp")
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(bts); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, 0)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, 0)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}
