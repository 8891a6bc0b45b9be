// Package wallet implements the holder side of the credential exchange: the
// session machines that take an inbound SIOPv2 request through credential
// selection to a signed response, and the passive and active issuance flows
// that get new credentials into the wallet.
package wallet

import (
	"github.com/go-redis/redis/v8"

	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/identity"
	"github.com/vcwallet/walletkit/server/registry"
	"github.com/vcwallet/walletkit/server/sessionstore"
	"github.com/vcwallet/walletkit/server/signer"
)

// Wallet drives the holder-side session machines.
type Wallet struct {
	conf        *server.Configuration
	registry    *registry.Registry
	dids        *identity.DIDs
	signer      *signer.Signer
	credentials CredentialStore
	issuer      *IssuerClient

	sessions       sessionstore.Store[PresentationSession]
	issuances      sessionstore.Store[IssuanceSession]
	issuanceStates sessionstore.Store[issuanceState]
}

// issuanceState maps an issuer-correlated state value to the issuance
// session it belongs to. Consumed is set when the state's code has been
// exchanged, making the state/code pair single-use.
type issuanceState struct {
	SessionID string `json:"sessionId"`
	Consumed  bool   `json:"consumed"`
}

// New creates a Wallet. The registry supplies known issuers and verifiers;
// credentials is the holder's credential store; client is only used for the
// Redis store backend.
func New(conf *server.Configuration, reg *registry.Registry, dids *identity.DIDs, credentials CredentialStore, client *redis.Client) (*Wallet, error) {
	sessions, err := sessionstore.New[PresentationSession](conf, "session:", client)
	if err != nil {
		return nil, err
	}
	issuances, err := sessionstore.New[IssuanceSession](conf, "issuance:", client)
	if err != nil {
		return nil, err
	}
	states, err := sessionstore.New[issuanceState](conf, "issuance-state:", client)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		conf:           conf,
		registry:       reg,
		dids:           dids,
		signer:         signer.New(dids),
		credentials:    credentials,
		issuer:         NewIssuerClient(conf),
		sessions:       sessions,
		issuances:      issuances,
		issuanceStates: states,
	}, nil
}

// Stop releases store resources.
func (w *Wallet) Stop() {
	w.sessions.Close()
	w.issuances.Close()
	w.issuanceStates.Close()
}
