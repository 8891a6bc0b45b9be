package wallet

import (
	"net/url"
	"path/filepath"
	"testing"

	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/stretchr/testify/require"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/identity"
	"github.com/vcwallet/walletkit/server/registry"
)

const (
	testSchema    = "https://schema.example.com/PersonCredential"
	testVerifier  = "https://verifier.example.com"
	testWalletURL = "https://wallet.example.com"
	testUIURL     = "https://wallet-ui.example.com"
)

type testWallet struct {
	*Wallet
	dids        *identity.DIDs
	registry    *registry.Registry
	credentials *MemoryCredentialStore
	holderDID   string
}

func newTestWallet(t *testing.T) *testWallet {
	conf := &server.Configuration{
		URL:         testWalletURL,
		WalletUIURL: testUIURL,
		Quiet:       true,
	}
	require.NoError(t, conf.Check())

	reg, err := registry.Load(filepath.Join(t.TempDir(), "wallet-registry.json"), conf.Logger)
	require.NoError(t, err)

	dids := identity.NewDIDs(identity.NewKeys())
	holder, err := dids.Create(identity.MethodKey, "")
	require.NoError(t, err)

	credentials := NewMemoryCredentialStore()
	require.NoError(t, credentials.Add(holder, walletkit.PresentableCredential{
		ID:         "cred-1",
		SchemaURI:  testSchema,
		Credential: testCredential(testSchema, holder),
	}))

	w, err := New(conf, reg, dids, credentials, nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	return &testWallet{
		Wallet:      w,
		dids:        dids,
		registry:    reg,
		credentials: credentials,
		holderDID:   holder,
	}
}

func testCredential(schemaURI, holderDID string) vc.VerifiableCredential {
	return vc.VerifiableCredential{
		Context: []ssi.URI{vc.VCContextV1URI()},
		Type:    []ssi.URI{ssi.MustParseURI("VerifiableCredential"), ssi.MustParseURI(schemaURI)},
		CredentialSubject: []interface{}{
			map[string]any{"id": holderDID},
		},
	}
}

// inboundQuery builds the query parameters of a verifier's (or issuer's)
// redirect into the wallet.
func inboundQuery(t *testing.T, redirectURI, subjectDID string, schemaURIs ...string) url.Values {
	request := &walletkit.SIOPv2Request{
		ResponseType: "id_token",
		ClientID:     testVerifier,
		RedirectURI:  redirectURI,
		Scope:        "openid",
		State:        "verifierstate",
		Nonce:        "verifiernonce",
		Claims:       walletkit.NewClaims(schemaURIs),
		SubjectDID:   subjectDID,
	}
	values, err := request.ToQueryValues()
	require.NoError(t, err)
	return values
}
