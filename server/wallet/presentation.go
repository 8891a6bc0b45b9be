package wallet

import (
	"net/url"
	"time"

	"github.com/go-errors/errors"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/sirupsen/logrus"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/sessionstore"
)

// Status of a presentation session. Expiry is not a stored status: an
// expired session simply disappears from the store.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusAwaitingSelection Status = "AWAITING_SELECTION"
	StatusFulfilled         Status = "FULFILLED"
)

// PresentationSession tracks one inbound presentation request from creation
// to fulfillment. The session id is the capability to act on it.
type PresentationSession struct {
	ID              string                  `json:"id"`
	Request         walletkit.SIOPv2Request `json:"request"`
	PassiveIssuance bool                    `json:"passiveIssuance"`
	Status          Status                  `json:"status"`
	HolderDID       string                  `json:"holderDid,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`

	SelectedCredentials []walletkit.PresentableCredential `json:"selectedCredentials,omitempty"`
	Response            *walletkit.SIOPv2Response         `json:"response,omitempty"`
}

// SessionView is what the wallet UI gets to render a selection screen: the
// session's constraints plus the holder's candidate credentials.
type SessionView struct {
	ID               string                            `json:"id"`
	PassiveIssuance  bool                              `json:"passiveIssuance"`
	RequestedSchemas []string                          `json:"requestedSchemas"`
	Candidates       []walletkit.PresentableCredential `json:"candidates"`
}

// InitPresentation creates a presentation session from an inbound SIOPv2
// redirect. The query is the full inbound parameter set; parameters the
// codec does not interpret are retained for the response redirect. With
// passiveIssuance set the session additionally drives issuance on
// fulfillment.
func (w *Wallet) InitPresentation(query url.Values, passiveIssuance bool) (*PresentationSession, error) {
	request, err := walletkit.ParseSIOPv2Request(query)
	if err != nil {
		return nil, err
	}
	if len(request.Claims.SchemaURIs()) == 0 {
		return nil, errors.New("siopv2 request without requested credential schemas")
	}
	if request.Expired(time.Now()) {
		return nil, errors.New("siopv2 request has expired")
	}

	session := PresentationSession{
		ID:              server.NewToken(),
		Request:         *request,
		PassiveIssuance: passiveIssuance,
		Status:          StatusCreated,
		HolderDID:       request.SubjectDID,
		CreatedAt:       time.Now(),
	}
	if err := w.sessions.Add(session.ID, session); err != nil {
		return nil, err
	}
	w.conf.Logger.WithFields(logrus.Fields{
		"session": session.ID,
		"client":  request.ClientID,
		"passive": passiveIssuance,
	}).Info("Presentation session created")
	return &session, nil
}

// ContinuePresentation binds the holder DID to the session and returns the
// selection view. It may be called repeatedly before fulfillment, so a UI
// refresh keeps working; it fails on a fulfilled session.
func (w *Wallet) ContinuePresentation(sessionID, holderDID string) (*SessionView, error) {
	var session PresentationSession
	err := w.sessions.Update(sessionID, func(s *PresentationSession) error {
		if s.Status == StatusFulfilled {
			return server.ErrInvalidState
		}
		s.HolderDID = holderDID
		s.Status = StatusAwaitingSelection
		session = *s
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	candidates, err := w.credentials.CredentialsFor(holderDID, session.Request.Claims.SchemaURIs())
	if err != nil {
		return nil, err
	}
	return &SessionView{
		ID:               session.ID,
		PassiveIssuance:  session.PassiveIssuance,
		RequestedSchemas: session.Request.Claims.SchemaURIs(),
		Candidates:       candidates,
	}, nil
}

// FulfillPresentation signs a response over the selected credentials and
// transitions the session to fulfilled. The operation is single-use: of two
// concurrent calls for the same session exactly one succeeds, the other
// fails without mutating the session.
func (w *Wallet) FulfillPresentation(sessionID string, selected []walletkit.PresentableCredential) (*walletkit.SIOPv2Response, error) {
	session, err := w.fulfill(sessionID, selected, false)
	if err != nil {
		return nil, err
	}
	return session.Response, nil
}

// fulfill performs the shared fulfillment transition. Selection validation,
// response signing and the state transition happen inside the store update,
// so a failed attempt leaves the session untouched and concurrent attempts
// serialize.
func (w *Wallet) fulfill(sessionID string, selected []walletkit.PresentableCredential, passiveIssuance bool) (*PresentationSession, error) {
	var session PresentationSession
	err := w.sessions.Update(sessionID, func(s *PresentationSession) error {
		if s.Status == StatusFulfilled {
			return server.ErrInvalidState
		}
		if s.PassiveIssuance != passiveIssuance {
			return server.ErrInvalidState
		}
		if s.HolderDID == "" {
			return errors.WrapPrefix(server.ErrInvalidState, "no holder DID bound to session", 0)
		}
		if err := validateSelection(s.Request.Claims.SchemaURIs(), selected); err != nil {
			return err
		}

		response, err := w.signResponse(s, selected)
		if err != nil {
			return err
		}
		s.SelectedCredentials = selected
		s.Response = response
		s.Status = StatusFulfilled
		session = *s
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	w.conf.Logger.WithFields(logrus.Fields{"session": sessionID}).Info("Presentation session fulfilled")
	return &session, nil
}

// validateSelection checks every selected credential against the requested
// schema set.
func validateSelection(requestedSchemas []string, selected []walletkit.PresentableCredential) error {
	if len(selected) == 0 {
		return errors.WrapPrefix(server.ErrSelectionMismatch, "no credentials selected", 0)
	}
	requested := make(map[string]bool, len(requestedSchemas))
	for _, uri := range requestedSchemas {
		requested[uri] = true
	}
	for _, credential := range selected {
		if !requested[credential.SchemaURI] {
			return errors.WrapPrefix(server.ErrSelectionMismatch, credential.SchemaURI, 0)
		}
	}
	return nil
}

func (w *Wallet) signResponse(session *PresentationSession, selected []walletkit.PresentableCredential) (*walletkit.SIOPv2Response, error) {
	idToken, err := w.signer.SignIDToken(session.HolderDID, session.Request.ClientID, session.Request.Nonce)
	if err != nil {
		return nil, err
	}
	vpToken, err := w.signer.SignVPToken(session.HolderDID, session.Request.ClientID, session.Request.Nonce, rawCredentials(selected))
	if err != nil {
		return nil, err
	}
	return &walletkit.SIOPv2Response{
		IDToken: idToken,
		VPToken: vpToken,
		State:   session.Request.State,
	}, nil
}

func rawCredentials(selected []walletkit.PresentableCredential) []vc.VerifiableCredential {
	credentials := make([]vc.VerifiableCredential, 0, len(selected))
	for _, credential := range selected {
		credentials = append(credentials, credential.Credential)
	}
	return credentials
}

// translateStoreError maps a store miss onto the session error taxonomy.
func translateStoreError(err error) error {
	if errors.Is(err, sessionstore.ErrNoSession) {
		return server.ErrSessionUnknown
	}
	return err
}
