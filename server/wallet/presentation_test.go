package wallet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/signer"
)

func TestInitPresentation(t *testing.T) {
	w := newTestWallet(t)

	session, err := w.InitPresentation(inboundQuery(t, testVerifier+"/verify", "", testSchema), false)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, StatusCreated, session.Status)
	assert.False(t, session.PassiveIssuance)
	assert.Equal(t, "verifiernonce", session.Request.Nonce)
}

func TestInitPresentationRejectsMalformed(t *testing.T) {
	w := newTestWallet(t)

	// no claims
	_, err := w.InitPresentation(inboundQuery(t, testVerifier+"/verify", ""), false)
	assert.Error(t, err)

	// no nonce
	query := inboundQuery(t, testVerifier+"/verify", "", testSchema)
	delete(query, "nonce")
	_, err = w.InitPresentation(query, false)
	assert.Error(t, err)

	// expired request
	query = inboundQuery(t, testVerifier+"/verify", "", testSchema)
	query.Set("exp", "1000000000")
	_, err = w.InitPresentation(query, false)
	assert.Error(t, err)
}

func TestPresentationFlow(t *testing.T) {
	w := newTestWallet(t)
	session, err := w.InitPresentation(inboundQuery(t, testVerifier+"/verify", "", testSchema), false)
	require.NoError(t, err)

	// continue binds the DID and lists candidates; it is repeatable
	for i := 0; i < 2; i++ {
		view, err := w.ContinuePresentation(session.ID, w.holderDID)
		require.NoError(t, err)
		assert.Equal(t, []string{testSchema}, view.RequestedSchemas)
		require.Len(t, view.Candidates, 1)
		assert.Equal(t, "cred-1", view.Candidates[0].ID)
	}

	view, err := w.ContinuePresentation(session.ID, w.holderDID)
	require.NoError(t, err)

	response, err := w.FulfillPresentation(session.ID, view.Candidates)
	require.NoError(t, err)
	assert.Equal(t, "verifierstate", response.State)

	// the response is bound to the verifier's nonce and signed by the holder
	presentation, err := signer.VerifyVPToken(response.VPToken, "verifiernonce")
	require.NoError(t, err)
	assert.Equal(t, w.holderDID, presentation.Holder.String())
	subject, _, err := signer.VerifyIDToken(response.IDToken, "verifiernonce")
	require.NoError(t, err)
	assert.Equal(t, w.holderDID, subject)

	// fulfillment is single-use
	_, err = w.FulfillPresentation(session.ID, view.Candidates)
	assert.ErrorIs(t, err, server.ErrInvalidState)
	_, err = w.ContinuePresentation(session.ID, w.holderDID)
	assert.ErrorIs(t, err, server.ErrInvalidState)
}

func TestFulfillPresentationSelectionMismatch(t *testing.T) {
	w := newTestWallet(t)
	session, err := w.InitPresentation(inboundQuery(t, testVerifier+"/verify", "", testSchema), false)
	require.NoError(t, err)
	_, err = w.ContinuePresentation(session.ID, w.holderDID)
	require.NoError(t, err)

	wrong := []walletkit.PresentableCredential{{
		ID:         "cred-2",
		SchemaURI:  "https://schema.example.com/SomethingElse",
		Credential: testCredential("https://schema.example.com/SomethingElse", w.holderDID),
	}}
	_, err = w.FulfillPresentation(session.ID, wrong)
	assert.ErrorIs(t, err, server.ErrSelectionMismatch)

	_, err = w.FulfillPresentation(session.ID, nil)
	assert.ErrorIs(t, err, server.ErrSelectionMismatch)

	// failed attempts leave the session usable
	view, err := w.ContinuePresentation(session.ID, w.holderDID)
	require.NoError(t, err)
	_, err = w.FulfillPresentation(session.ID, view.Candidates)
	assert.NoError(t, err)
}

func TestFulfillPresentationWithoutDID(t *testing.T) {
	w := newTestWallet(t)
	session, err := w.InitPresentation(inboundQuery(t, testVerifier+"/verify", "", testSchema), false)
	require.NoError(t, err)

	view := []walletkit.PresentableCredential{{
		ID:         "cred-1",
		SchemaURI:  testSchema,
		Credential: testCredential(testSchema, w.holderDID),
	}}
	_, err = w.FulfillPresentation(session.ID, view)
	assert.ErrorIs(t, err, server.ErrInvalidState)
}

func TestPresentationUnknownSession(t *testing.T) {
	w := newTestWallet(t)
	_, err := w.ContinuePresentation("nosuchsession", w.holderDID)
	assert.ErrorIs(t, err, server.ErrSessionUnknown)
	_, err = w.FulfillPresentation("nosuchsession", nil)
	assert.ErrorIs(t, err, server.ErrSessionUnknown)
}

// Two concurrent fulfillments of one session must yield exactly one success.
func TestFulfillPresentationConcurrent(t *testing.T) {
	w := newTestWallet(t)
	session, err := w.InitPresentation(inboundQuery(t, testVerifier+"/verify", "", testSchema), false)
	require.NoError(t, err)
	view, err := w.ContinuePresentation(session.ID, w.holderDID)
	require.NoError(t, err)

	const racers = 16
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.FulfillPresentation(session.ID, view.Candidates)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, server.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, succeeded)
}
