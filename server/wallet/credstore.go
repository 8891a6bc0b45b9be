package wallet

import (
	"sync"

	"github.com/vcwallet/walletkit"
)

// CredentialStore is the wallet's backing store of credentials held per
// holder DID. Presentation flows only read from it; passive issuance adds
// the credentials it receives.
type CredentialStore interface {
	// CredentialsFor returns the holder's credentials satisfying any of the
	// given schema URIs.
	CredentialsFor(holderDID string, schemaURIs []string) ([]walletkit.PresentableCredential, error)
	// Add stores a credential for the holder.
	Add(holderDID string, credential walletkit.PresentableCredential) error
	// List returns all credentials held for the holder.
	List(holderDID string) ([]walletkit.PresentableCredential, error)
	// Remove deletes the holder's credential with the given id. Removing an
	// unknown id is not an error.
	Remove(holderDID, credentialID string) error
}

// MemoryCredentialStore is an in-process CredentialStore. Deployments with
// durable credential storage implement the interface against their own
// backend.
type MemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string][]walletkit.PresentableCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{credentials: map[string][]walletkit.PresentableCredential{}}
}

func (s *MemoryCredentialStore) CredentialsFor(holderDID string, schemaURIs []string) ([]walletkit.PresentableCredential, error) {
	wanted := make(map[string]bool, len(schemaURIs))
	for _, uri := range schemaURIs {
		wanted[uri] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []walletkit.PresentableCredential
	for _, credential := range s.credentials[holderDID] {
		if wanted[credential.SchemaURI] {
			matches = append(matches, credential)
		}
	}
	return matches, nil
}

func (s *MemoryCredentialStore) Add(holderDID string, credential walletkit.PresentableCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[holderDID] = append(s.credentials[holderDID], credential)
	return nil
}

func (s *MemoryCredentialStore) List(holderDID string) ([]walletkit.PresentableCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]walletkit.PresentableCredential(nil), s.credentials[holderDID]...), nil
}

func (s *MemoryCredentialStore) Remove(holderDID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.credentials[holderDID]
	for i, credential := range held {
		if credential.ID == credentialID {
			s.credentials[holderDID] = append(held[:i:i], held[i+1:]...)
			return nil
		}
	}
	return nil
}
