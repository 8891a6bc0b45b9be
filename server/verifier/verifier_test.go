package verifier

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/identity"
	"github.com/vcwallet/walletkit/server/registry"
	"github.com/vcwallet/walletkit/server/signer"
)

const testSchema = "https://schema.example.com/PersonCredential"

func newTestVerifier(t *testing.T) *Verifier {
	registryPath := filepath.Join(t.TempDir(), "verifier-registry.json")
	require.NoError(t, os.WriteFile(registryPath, []byte(`{
		"wallets": {
			"testwallet": {"url": "https://wallet.example.com", "presentPath": "/siopv2/initPresentation"}
		}
	}`), 0600))

	conf := &server.Configuration{URL: "https://verifier.example.com", Quiet: true}
	require.NoError(t, conf.Check())
	reg, err := registry.Load(registryPath, conf.Logger)
	require.NoError(t, err)

	v, err := New(conf, reg, nil)
	require.NoError(t, err)
	t.Cleanup(v.Stop)
	return v
}

// signedResponse produces a holder-signed id_token/vp_token pair answering
// the challenge, presenting one credential of the given schema.
func signedResponse(t *testing.T, request *walletkit.SIOPv2Request, schemaURI string) (idToken, vpToken string) {
	dids := identity.NewDIDs(identity.NewKeys())
	holder, err := dids.Create(identity.MethodKey, "")
	require.NoError(t, err)
	s := signer.New(dids)

	credential := vc.VerifiableCredential{
		Context: []ssi.URI{vc.VCContextV1URI()},
		Type:    []ssi.URI{ssi.MustParseURI("VerifiableCredential"), ssi.MustParseURI(schemaURI)},
		CredentialSubject: []interface{}{
			map[string]any{"id": holder},
		},
	}

	idToken, err = s.SignIDToken(holder, request.ClientID, request.Nonce)
	require.NoError(t, err)
	vpToken, err = s.SignVPToken(holder, request.ClientID, request.Nonce, []vc.VerifiableCredential{credential})
	require.NoError(t, err)
	return idToken, vpToken
}

func TestNewRequest(t *testing.T) {
	v := newTestVerifier(t)

	_, err := v.NewRequest(nil, "")
	assert.Error(t, err)

	request, err := v.NewRequest([]string{testSchema}, "verifierUiUrl=https%3A%2F%2Fui.example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, request.State)
	assert.NotEmpty(t, request.Nonce)
	assert.Equal(t, []string{testSchema}, request.Claims.SchemaURIs())
	assert.Equal(t, "https://verifier.example.com/verify?verifierUiUrl=https%3A%2F%2Fui.example.com", request.RedirectURI)

	other, err := v.NewRequest([]string{testSchema}, "")
	require.NoError(t, err)
	assert.NotEqual(t, request.State, other.State)
	assert.NotEqual(t, request.Nonce, other.Nonce)
}

func TestVerifyResponse(t *testing.T) {
	v := newTestVerifier(t)
	request, err := v.NewRequest([]string{testSchema}, "")
	require.NoError(t, err)
	idToken, vpToken := signedResponse(t, request, testSchema)

	result, err := v.VerifyResponse(request.State, idToken, vpToken)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Token)
	assert.True(t, strings.HasPrefix(result.Subject, "did:key:"))
	require.NotNil(t, result.Presentation)

	// the result stays retrievable, reading does not consume the token
	for i := 0; i < 2; i++ {
		stored := v.VerificationResult(result.Token)
		require.NotNil(t, stored)
		assert.Equal(t, result.Valid, stored.Valid)
		assert.Equal(t, result.Subject, stored.Subject)
	}
	assert.Nil(t, v.VerificationResult("bogus"))

	// the state is consumed, a replay must not verify again
	_, err = v.VerifyResponse(request.State, idToken, vpToken)
	assert.ErrorIs(t, err, server.ErrStateUnknown)
}

func TestVerifyResponseUnknownState(t *testing.T) {
	v := newTestVerifier(t)
	_, err := v.VerifyResponse("neverissued", "", "")
	assert.ErrorIs(t, err, server.ErrStateUnknown)
}

func TestVerifyResponseCryptoFailure(t *testing.T) {
	v := newTestVerifier(t)
	request, err := v.NewRequest([]string{testSchema}, "")
	require.NoError(t, err)

	result, err := v.VerifyResponse(request.State, "garbage", "garbage")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Token)
	assert.Contains(t, result.Reason, "id_token")

	stored := v.VerificationResult(result.Token)
	require.NotNil(t, stored)
	assert.False(t, stored.Valid)
}

func TestVerifyResponseWrongNonce(t *testing.T) {
	v := newTestVerifier(t)
	request, err := v.NewRequest([]string{testSchema}, "")
	require.NoError(t, err)

	// tokens bound to a different challenge's nonce must not validate
	foreign := *request
	foreign.Nonce = "someothernonce"
	idToken, vpToken := signedResponse(t, &foreign, testSchema)

	result, err := v.VerifyResponse(request.State, idToken, vpToken)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyResponseSchemaNotPresented(t *testing.T) {
	v := newTestVerifier(t)
	request, err := v.NewRequest([]string{testSchema}, "")
	require.NoError(t, err)
	idToken, vpToken := signedResponse(t, request, "https://schema.example.com/SomethingElse")

	result, err := v.VerifyResponse(request.State, idToken, vpToken)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, testSchema)
}

func TestHandlerPresent(t *testing.T) {
	v := newTestVerifier(t)
	handler := v.Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/present?walletId=testwallet&schemaUri="+url.QueryEscape(testSchema)+"&verifierUiUrl=https%3A%2F%2Fui.example.com", nil))
	require.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "wallet.example.com", location.Host)
	assert.Equal(t, "/siopv2/initPresentation", location.Path)

	query := location.Query()
	assert.NotEmpty(t, query.Get("state"))
	assert.NotEmpty(t, query.Get("nonce"))
	assert.Equal(t, "id_token", query.Get("response_type"))

	// the custom parameter travels on the challenge's redirect URI
	redirectURI, err := url.Parse(query.Get("redirect_uri"))
	require.NoError(t, err)
	assert.Equal(t, "https://ui.example.com", redirectURI.Query().Get("verifierUiUrl"))

	// unknown wallet
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet,
		"/present?walletId=nosuchwallet&schemaUri="+url.QueryEscape(testSchema), nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandlerVerifyAndAuth(t *testing.T) {
	v := newTestVerifier(t)
	handler := v.Handler()

	request, err := v.NewRequest([]string{testSchema}, "")
	require.NoError(t, err)
	idToken, vpToken := signedResponse(t, request, testSchema)

	form := url.Values{"state": {request.State}, "id_token": {idToken}, "vp_token": {vpToken}}
	httpRequest := httptest.NewRequest(http.MethodPost,
		"/verify?verifierUiUrl=https%3A%2F%2Fui.example.com", strings.NewReader(form.Encode()))
	httpRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httpRequest)
	require.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "ui.example.com", location.Host)
	accessToken := location.Query().Get("access_token")
	require.NotEmpty(t, accessToken)
	assert.Empty(t, location.Query().Get("valid"))

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth?access_token="+accessToken, nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"valid":true`)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth?access_token=bogus", nil))
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestHandlerWalletRegistry(t *testing.T) {
	v := newTestVerifier(t)
	handler := v.Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/wallets/list", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "testwallet")

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/wallets",
		strings.NewReader(`{"id": "otherwallet", "url": "https://other.example.com", "presentPath": "/present"}`)))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/wallets/list", nil))
	assert.Contains(t, recorder.Body.String(), "otherwallet")

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/wallets/otherwallet", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/wallets/list", nil))
	assert.NotContains(t, recorder.Body.String(), "otherwallet")
}
