package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet-config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"issuers": {
			"issuer1": {"url": "https://issuer.example.com", "authorizePath": "authorize", "tokenPath": "token", "description": "Example issuer"}
		},
		"verifiers": {
			"verifier1": {"url": "https://verifier.example.com"}
		}
	}`), 0600))

	r, err := Load(path, nil)
	require.NoError(t, err)

	issuer, err := r.Resolve(KindIssuer, "issuer1")
	require.NoError(t, err)
	assert.Equal(t, "issuer1", issuer.ID)
	assert.Equal(t, "https://issuer.example.com", issuer.URL)
	assert.Equal(t, "authorize", issuer.AuthorizePath)

	_, err = r.Resolve(KindIssuer, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(KindWallet, "issuer1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, r.List(KindIssuer), 1)
	assert.Empty(t, r.List(KindWallet))
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, err)
	_, err = r.Resolve(KindIssuer, "issuer1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddRemovePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verifier-config.json")
	r, err := Load(path, nil)
	require.NoError(t, err)

	entry := Entry{ID: "wallet1", URL: "https://wallet.example.com", PresentPath: "api/siopv2/initPresentation"}
	require.NoError(t, r.Add(KindWallet, entry))
	assert.ErrorIs(t, r.Add(KindWallet, entry), ErrExists)

	// the file holds valid JSON with the new entry
	bts, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]map[string]Entry
	require.NoError(t, json.Unmarshal(bts, &onDisk))
	assert.Contains(t, onDisk["wallets"], "wallet1")

	// a fresh load sees it too
	r2, err := Load(path, nil)
	require.NoError(t, err)
	resolved, err := r2.Resolve(KindWallet, "wallet1")
	require.NoError(t, err)
	assert.Equal(t, entry, resolved)

	require.NoError(t, r.Remove(KindWallet, "wallet1"))
	assert.ErrorIs(t, r.Remove(KindWallet, "wallet1"), ErrNotFound)
	_, err = r.Resolve(KindWallet, "wallet1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReloadPicksUpExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet-config.json")
	r, err := Load(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"issuers": {"issuer1": {"url": "https://issuer.example.com"}}}`), 0600))
	_, err = r.Resolve(KindIssuer, "issuer1")
	assert.ErrorIs(t, err, ErrNotFound, "stale view before reload")

	require.NoError(t, r.Reload())
	_, err = r.Resolve(KindIssuer, "issuer1")
	assert.NoError(t, err)
}
