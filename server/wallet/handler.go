package wallet

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-errors/errors"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/registry"
)

// Handler returns the wallet's HTTP surface. Deployments mount it under
// /siopv2; the wallet UI pages the redirect endpoints land on are relative
// to the configured wallet UI URL.
func (w *Wallet) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Content-Type", "X-Auth-Subject"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}).Handler)

	router.Get("/initPresentation", w.handleInitPresentation)
	router.Get("/initPassiveIssuance", w.handleInitPassiveIssuance)
	router.Get("/continuePresentation", w.handleContinuePresentation)
	router.Post("/fulfillPresentation", w.handleFulfillPresentation)
	router.Post("/fulfillPassiveIssuance", w.handleFulfillPassiveIssuance)

	router.Post("/initIssuance", w.handleInitIssuance)
	router.Get("/finalizeIssuance", w.handleFinalizeIssuance)
	router.Get("/issuanceSessionInfo", w.handleIssuanceSessionInfo)

	router.Get("/issuer/list", w.handleListRegistry(registry.KindIssuer))
	router.Get("/verifier/list", w.handleListRegistry(registry.KindVerifier))
	router.Post("/issuer", w.handleAddIssuer)
	router.Delete("/issuer/{id}", w.handleRemoveIssuer)

	router.Get("/credentials/list", w.handleListCredentials)
	router.Delete("/credentials/{id}", w.handleRemoveCredential)

	router.Get("/did/list", w.handleListDIDs)
	router.Get("/did", w.handleLoadDID)
	router.Post("/did/create", w.handleCreateDID)

	return router
}

// userInfo extracts the authenticated wallet user from the request. The
// authentication layer in front of this server asserts the subject header;
// without it, issuance operations are refused.
func userInfo(r *http.Request) (walletkit.UserInfo, bool) {
	subject := r.Header.Get("X-Auth-Subject")
	return walletkit.UserInfo{
		Subject: subject,
		Email:   r.Header.Get("X-Auth-Email"),
	}, subject != ""
}

func (w *Wallet) handleInitPresentation(wr http.ResponseWriter, r *http.Request) {
	w.initSession(wr, r, false)
}

func (w *Wallet) handleInitPassiveIssuance(wr http.ResponseWriter, r *http.Request) {
	w.initSession(wr, r, true)
}

// initSession creates a presentation session from the inbound SIOPv2
// redirect and sends the browser on to the wallet UI's selection page.
func (w *Wallet) initSession(wr http.ResponseWriter, r *http.Request, passiveIssuance bool) {
	session, err := w.InitPresentation(r.URL.Query(), passiveIssuance)
	if err != nil {
		server.WriteError(wr, server.ErrorMalformedInput, err.Error())
		return
	}
	server.Redirect(wr, w.conf.WalletUIURL+"/CredentialRequest/?sessionId="+session.ID)
}

func (w *Wallet) handleContinuePresentation(wr http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	did := r.URL.Query().Get("did")
	if sessionID == "" || did == "" {
		server.WriteError(wr, server.ErrorInvalidRequest, "sessionId and did are required")
		return
	}
	view, err := w.ContinuePresentation(sessionID, did)
	if err != nil {
		server.WriteError(wr, server.TranslateError(err), err.Error())
		return
	}
	server.WriteJson(wr, view)
}

func (w *Wallet) handleFulfillPresentation(wr http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	selected, err := parseSelection(r)
	if err != nil {
		server.WriteError(wr, server.ErrorMalformedInput, err.Error())
		return
	}
	response, err := w.FulfillPresentation(sessionID, selected)
	if err != nil {
		server.WriteError(wr, server.TranslateError(err), err.Error())
		return
	}
	server.WriteJson(wr, response)
}

func (w *Wallet) handleFulfillPassiveIssuance(wr http.ResponseWriter, r *http.Request) {
	user, ok := userInfo(r)
	if !ok {
		server.WriteError(wr, server.ErrorForbidden, "no authenticated wallet user")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	selected, err := parseSelection(r)
	if err != nil {
		server.WriteError(wr, server.ErrorMalformedInput, err.Error())
		return
	}
	session, err := w.FulfillPassiveIssuance(r.Context(), sessionID, selected, user)
	if err != nil {
		server.WriteError(wr, server.TranslateError(err), err.Error())
		return
	}
	server.WriteString(wr, session.ID)
}

func parseSelection(r *http.Request) ([]walletkit.PresentableCredential, error) {
	var selected []walletkit.PresentableCredential
	if err := json.NewDecoder(r.Body).Decode(&selected); err != nil {
		return nil, errors.WrapPrefix(err, "failed to parse credential selection", 0)
	}
	return selected, nil
}

func (w *Wallet) handleInitIssuance(wr http.ResponseWriter, r *http.Request) {
	user, ok := userInfo(r)
	if !ok {
		server.WriteError(wr, server.ErrorForbidden, "no authenticated wallet user")
		return
	}
	var request walletkit.CredentialIssuanceRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		server.WriteError(wr, server.ErrorMalformedInput, err.Error())
		return
	}
	if err := request.Validate(); err != nil {
		server.WriteError(wr, server.ErrorMalformedInput, err.Error())
		return
	}
	redirectURI, err := w.InitIssuance(&request, user)
	if err != nil {
		server.WriteError(wr, server.TranslateError(err), err.Error())
		return
	}
	server.WriteString(wr, redirectURI)
}

// handleFinalizeIssuance lands the browser returning from the issuer's
// authorization page. It always redirects to a wallet UI page: the received
// credential view on success, the issuance error view on any failure.
func (w *Wallet) handleFinalizeIssuance(wr http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		server.Redirect(wr, w.conf.WalletUIURL+"/IssuanceError/")
		return
	}
	session, err := w.FinalizeIssuance(r.Context(), state, code)
	if err != nil || session.Status != IssuanceFulfilled {
		server.Redirect(wr, w.conf.WalletUIURL+"/IssuanceError/")
		return
	}
	server.Redirect(wr, w.conf.WalletUIURL+"/ReceiveCredential/?sessionId="+session.ID)
}

func (w *Wallet) handleIssuanceSessionInfo(wr http.ResponseWriter, r *http.Request) {
	session, err := w.GetIssuanceSession(r.URL.Query().Get("sessionId"))
	if err != nil {
		server.WriteError(wr, server.TranslateError(err), err.Error())
		return
	}
	server.WriteJson(wr, session)
}

func (w *Wallet) handleListRegistry(kind registry.Kind) http.HandlerFunc {
	return func(wr http.ResponseWriter, r *http.Request) {
		if err := w.registry.Reload(); err != nil {
			server.WriteError(wr, server.ErrorInternal, server.LogError(err).Error())
			return
		}
		server.WriteJson(wr, w.registry.List(kind))
	}
}

func (w *Wallet) handleAddIssuer(wr http.ResponseWriter, r *http.Request) {
	var entry registry.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		server.WriteError(wr, server.ErrorMalformedInput, err.Error())
		return
	}
	if err := w.registry.Add(registry.KindIssuer, entry); err != nil {
		server.WriteError(wr, server.ErrorInvalidRequest, err.Error())
		return
	}
	server.WriteString(wr, entry.ID)
}

func (w *Wallet) handleRemoveIssuer(wr http.ResponseWriter, r *http.Request) {
	if err := w.registry.Remove(registry.KindIssuer, chi.URLParam(r, "id")); err != nil {
		server.WriteError(wr, server.ErrorInvalidRequest, err.Error())
		return
	}
	server.WriteString(wr, "OK")
}

func (w *Wallet) handleListCredentials(wr http.ResponseWriter, r *http.Request) {
	if _, ok := userInfo(r); !ok {
		server.WriteError(wr, server.ErrorForbidden, "no authenticated wallet user")
		return
	}
	did := r.URL.Query().Get("did")
	if did == "" {
		server.WriteError(wr, server.ErrorInvalidRequest, "did is required")
		return
	}
	held, err := w.credentials.List(did)
	if err != nil {
		server.WriteError(wr, server.ErrorInternal, server.LogError(err).Error())
		return
	}
	server.WriteJson(wr, held)
}

func (w *Wallet) handleRemoveCredential(wr http.ResponseWriter, r *http.Request) {
	if _, ok := userInfo(r); !ok {
		server.WriteError(wr, server.ErrorForbidden, "no authenticated wallet user")
		return
	}
	did := r.URL.Query().Get("did")
	if did == "" {
		server.WriteError(wr, server.ErrorInvalidRequest, "did is required")
		return
	}
	if err := w.credentials.Remove(did, chi.URLParam(r, "id")); err != nil {
		server.WriteError(wr, server.ErrorInternal, server.LogError(err).Error())
		return
	}
	server.WriteString(wr, "OK")
}

func (w *Wallet) handleListDIDs(wr http.ResponseWriter, r *http.Request) {
	server.WriteJson(wr, w.dids.List())
}

func (w *Wallet) handleLoadDID(wr http.ResponseWriter, r *http.Request) {
	document, err := w.dids.Load(r.URL.Query().Get("did"))
	if err != nil {
		server.WriteError(wr, server.ErrorInvalidRequest, err.Error())
		return
	}
	server.WriteJson(wr, document)
}

func (w *Wallet) handleCreateDID(wr http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	if method == "" {
		method = "key"
	}
	did, err := w.dids.Create(method, r.URL.Query().Get("keyId"))
	if err != nil {
		server.WriteError(wr, server.ErrorInvalidRequest, err.Error())
		return
	}
	server.WriteString(wr, did)
}
