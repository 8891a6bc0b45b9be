package wallet

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/go-errors/errors"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/sirupsen/logrus"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/registry"
	"github.com/vcwallet/walletkit/server/sessionstore"
)

type IssuanceStatus string

const (
	IssuanceInitiated    IssuanceStatus = "INITIATED"
	IssuanceAwaitingCode IssuanceStatus = "AWAITING_CODE"
	IssuanceFulfilled    IssuanceStatus = "FULFILLED"
	IssuanceFailed       IssuanceStatus = "ERROR"
)

// IssuanceSession tracks one issuance flow. Active issuance moves through
// AWAITING_CODE while the user authorizes at the issuer; passive issuance is
// created terminal in one call. FULFILLED and ERROR are terminal.
type IssuanceSession struct {
	ID         string         `json:"id"`
	IssuerID   string         `json:"issuerId"`
	SchemaURIs []string       `json:"schemaUris"`
	State      string         `json:"-"`
	Status     IssuanceStatus `json:"status"`
	Subject    string         `json:"subject,omitempty"`
	HolderDID  string         `json:"holderDid,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`

	Credentials []vc.VerifiableCredential `json:"credentials,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// Terminal reports whether the session has reached its final state.
func (s *IssuanceSession) Terminal() bool {
	return s.Status == IssuanceFulfilled || s.Status == IssuanceFailed
}

// InitIssuance starts an active issuance flow: it allocates a session
// awaiting the authorization code and returns the issuer's authorization
// redirect URI to send the user to. An unknown or misconfigured issuer is an
// upstream failure, not a caller error.
func (w *Wallet) InitIssuance(request *walletkit.CredentialIssuanceRequest, user walletkit.UserInfo) (string, error) {
	if err := request.Validate(); err != nil {
		return "", err
	}

	if err := w.registry.Reload(); err != nil {
		return "", err
	}
	issuer, err := w.registry.Resolve(registry.KindIssuer, request.IssuerID)
	if err != nil {
		return "", errors.WrapPrefix(server.ErrUpstreamFailure, "unknown issuer "+request.IssuerID, 0)
	}
	if issuer.URL == "" || issuer.AuthorizePath == "" {
		return "", errors.WrapPrefix(server.ErrUpstreamFailure, "issuer "+request.IssuerID+" has no authorization endpoint", 0)
	}

	session := IssuanceSession{
		ID:         server.NewToken(),
		IssuerID:   request.IssuerID,
		SchemaURIs: request.SchemaURIs,
		State:      server.NewToken(),
		Status:     IssuanceAwaitingCode,
		Subject:    user.Subject,
		CreatedAt:  time.Now(),
	}
	if err := w.issuances.Add(session.ID, session); err != nil {
		return "", err
	}
	if err := w.issuanceStates.Add(session.State, issuanceState{SessionID: session.ID}); err != nil {
		return "", err
	}

	redirectURI := request.WalletRedirectURI
	if redirectURI == "" {
		redirectURI = w.conf.URL + "/siopv2/finalizeIssuance"
	}
	claims, err := json.Marshal(walletkit.NewClaims(request.SchemaURIs))
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {w.conf.URL},
		"redirect_uri":  {redirectURI},
		"state":         {session.State},
		"claims":        {string(claims)},
	}

	w.conf.Logger.WithFields(logrus.Fields{
		"session": session.ID,
		"issuer":  request.IssuerID,
	}).Info("Issuance session created")
	return walletkit.AppendQuery(issuer.URL+issuer.AuthorizePath, params.Encode()), nil
}

// errStateConsumed signals a replayed finalize inside the claim update.
var errStateConsumed = errors.New("issuance state already consumed")

// FinalizeIssuance consumes the authorization code for the session behind
// state and exchanges it with the issuer. The state/code pair is single-use:
// the exchange runs at most once. A replay for a session that already
// reached a terminal state returns that session unchanged, so the UI can
// re-render the outcome; any other replay fails as unknown state. An issuer
// failure is not an error return but a session in the ERROR terminal state.
func (w *Wallet) FinalizeIssuance(ctx context.Context, state, code string) (*IssuanceSession, error) {
	var sessionID string
	err := w.issuanceStates.Update(state, func(s *issuanceState) error {
		sessionID = s.SessionID
		if s.Consumed {
			return errStateConsumed
		}
		s.Consumed = true
		return nil
	})
	switch {
	case errors.Is(err, sessionstore.ErrNoSession):
		return nil, server.ErrStateUnknown
	case errors.Is(err, errStateConsumed):
		session, err := w.issuances.Get(sessionID)
		if err != nil || !session.Terminal() {
			return nil, server.ErrStateUnknown
		}
		return &session, nil
	case err != nil:
		return nil, err
	}

	session, err := w.issuances.Get(sessionID)
	if err != nil {
		return nil, server.ErrStateUnknown
	}
	issuer, err := w.registry.Resolve(registry.KindIssuer, session.IssuerID)
	var credentials []vc.VerifiableCredential
	if err == nil {
		credentials, err = w.issuer.ExchangeCode(ctx, issuer, code, state)
	}
	return w.finishIssuance(sessionID, credentials, err)
}

// finishIssuance commits the terminal state of an issuance session.
func (w *Wallet) finishIssuance(sessionID string, credentials []vc.VerifiableCredential, exchangeErr error) (*IssuanceSession, error) {
	var session IssuanceSession
	err := w.issuances.Update(sessionID, func(s *IssuanceSession) error {
		if exchangeErr != nil {
			s.Status = IssuanceFailed
			s.Error = exchangeErr.Error()
		} else {
			s.Status = IssuanceFulfilled
			s.Credentials = credentials
		}
		session = *s
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	w.conf.Logger.WithFields(logrus.Fields{
		"session": sessionID,
		"status":  session.Status,
	}).Info("Issuance session finished")
	return &session, nil
}

// GetIssuanceSession is an idempotent read available in any state, used by
// the wallet UI to poll the outcome.
func (w *Wallet) GetIssuanceSession(sessionID string) (*IssuanceSession, error) {
	session, err := w.issuances.Get(sessionID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return &session, nil
}

// FulfillPassiveIssuance fulfills a passive-issuance presentation session
// and delivers the signed response to the issuer, which answers with the
// issued credentials. The presentation fulfillment is the single-use gate;
// the resulting issuance session is terminal immediately. Credentials
// received successfully are added to the holder's credential store.
func (w *Wallet) FulfillPassiveIssuance(ctx context.Context, sessionID string, selected []walletkit.PresentableCredential, user walletkit.UserInfo) (*IssuanceSession, error) {
	presentation, err := w.fulfill(sessionID, selected, true)
	if err != nil {
		return nil, err
	}

	credentials, exchangeErr := w.issuer.PostResponse(ctx, presentation.Request.RedirectURI, presentation.Response, user.Subject)

	session := IssuanceSession{
		ID:         server.NewToken(),
		IssuerID:   presentation.Request.ClientID,
		SchemaURIs: presentation.Request.Claims.SchemaURIs(),
		Subject:    user.Subject,
		HolderDID:  presentation.HolderDID,
		CreatedAt:  time.Now(),
	}
	if exchangeErr != nil {
		session.Status = IssuanceFailed
		session.Error = exchangeErr.Error()
	} else {
		session.Status = IssuanceFulfilled
		session.Credentials = credentials
		for _, credential := range credentials {
			if err := w.storeReceived(presentation.HolderDID, credential); err != nil {
				return nil, err
			}
		}
	}
	if err := w.issuances.Add(session.ID, session); err != nil {
		return nil, err
	}
	w.conf.Logger.WithFields(logrus.Fields{
		"session":      session.ID,
		"presentation": sessionID,
		"status":       session.Status,
	}).Info("Passive issuance finished")
	return &session, nil
}

// storeReceived adds an issued credential to the holder's store, keyed by
// the schema it asserts.
func (w *Wallet) storeReceived(holderDID string, credential vc.VerifiableCredential) error {
	schemaURI := ""
	for _, typ := range credential.Type {
		if uri := typ.String(); uri != "VerifiableCredential" && typ.IsAbs() {
			schemaURI = uri
			break
		}
	}
	return w.credentials.Add(holderDID, walletkit.PresentableCredential{
		ID:         server.NewToken(),
		SchemaURI:  schemaURI,
		Credential: credential,
	})
}
