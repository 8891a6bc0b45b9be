// Package identity implements the key and DID collaborators the session
// engines depend on: an in-memory Ed25519 keystore and a did:key method
// (create, resolve, list). did:key documents are derived entirely from the
// identifier, so resolution never requires network access.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"github.com/go-errors/errors"
)

// AlgorithmEd25519 is the only key algorithm currently supported.
const AlgorithmEd25519 = "EdDSA_Ed25519"

var ErrKeyNotFound = errors.New("no key with this id")

// Key is a handle to a stored keypair. The private key never leaves this
// package except through Signer().
type Key struct {
	ID        string
	Algorithm string
	Public    ed25519.PublicKey

	private ed25519.PrivateKey
}

// Signer returns the private key for signing operations.
func (k *Key) Signer() ed25519.PrivateKey {
	return k.private
}

// Keys is an in-memory keystore safe for concurrent use.
type Keys struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

func NewKeys() *Keys {
	return &Keys{keys: map[string]*Key{}}
}

// Generate creates and stores a fresh keypair of the given algorithm.
func (ks *Keys) Generate(algorithm string) (*Key, error) {
	if algorithm != AlgorithmEd25519 {
		return nil, errors.Errorf("unsupported key algorithm %q", algorithm)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	key := &Key{
		ID:        newKeyID(),
		Algorithm: algorithm,
		Public:    pub,
		private:   priv,
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[key.ID] = key
	return key, nil
}

// Load returns the key with the given id, or ErrKeyNotFound.
func (ks *Keys) Load(id string) (*Key, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	key, ok := ks.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// List returns the ids of all stored keys.
func (ks *Keys) List() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	ids := make([]string, 0, len(ks.keys))
	for id := range ks.keys {
		ids = append(ids, id)
	}
	return ids
}

const keyIDLength = 16

func newKeyID() string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	r := make([]byte, keyIDLength)
	if _, err := rand.Read(r); err != nil {
		panic(err)
	}
	for i := range r {
		r[i] = chars[r[i]%byte(len(chars))]
	}
	return "key-" + string(r)
}
