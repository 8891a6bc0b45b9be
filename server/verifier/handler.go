package verifier

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/registry"
)

// Handler returns the verifier's HTTP surface. The caller mounts it on
// whichever prefix the deployment uses.
func (v *Verifier) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Content-Type"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}).Handler)

	router.Get("/present", v.handlePresent)
	router.Post("/verify", v.handleVerify)
	router.Get("/auth", v.handleAuth)

	router.Get("/wallets/list", v.handleListWallets)
	router.Post("/wallets", v.handleAddWallet)
	router.Delete("/wallets/{id}", v.handleRemoveWallet)

	return router
}

// handlePresent mints a presentation challenge and redirects the holder's
// browser to the selected wallet's presentation endpoint. Query parameters
// other than walletId and schemaUri travel with the challenge's redirect URI
// so they reappear on the /verify callback.
func (v *Verifier) handlePresent(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	walletID := query.Get("walletId")
	schemaURIs := query["schemaUri"]
	if walletID == "" || len(schemaURIs) == 0 {
		server.WriteError(w, server.ErrorInvalidRequest, "walletId and at least one schemaUri are required")
		return
	}

	if err := v.registry.Reload(); err != nil {
		server.WriteError(w, server.ErrorInternal, server.LogError(err).Error())
		return
	}
	wallet, err := v.registry.Resolve(registry.KindWallet, walletID)
	if err != nil {
		server.WriteError(w, server.ErrorInvalidRequest, "unknown wallet: "+walletID)
		return
	}

	passthrough := walletkit.EncodePassthroughQuery(query, "walletId", "schemaUri")
	request, err := v.NewRequest(schemaURIs, passthrough)
	if err != nil {
		server.WriteError(w, server.ErrorInternal, server.LogError(err).Error())
		return
	}
	requestQuery, err := request.ToURIQueryString()
	if err != nil {
		server.WriteError(w, server.ErrorInternal, server.LogError(err).Error())
		return
	}
	server.Redirect(w, walletkit.AppendQuery(wallet.URL+wallet.PresentPath, requestQuery))
}

// handleVerify receives the wallet's SIOPv2 response form post, verifies it
// and redirects the browser to the verifier UI carrying the result's access
// token.
func (v *Verifier) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		server.WriteError(w, server.ErrorMalformedInput, err.Error())
		return
	}
	state := r.PostFormValue("state")
	if state == "" {
		server.WriteError(w, server.ErrorInvalidRequest, "state is required")
		return
	}

	result, err := v.VerifyResponse(state, r.PostFormValue("id_token"), r.PostFormValue("vp_token"))
	if err != nil {
		server.WriteError(w, server.TranslateError(err), err.Error())
		return
	}

	uiURL := r.URL.Query().Get("verifierUiUrl")
	if uiURL == "" {
		uiURL = v.conf.VerifierUIURL
	}
	server.Redirect(w, v.RedirectionURI(result, uiURL))
}

// handleAuth hands out the verification result behind an access token. The
// token is the only authorization; an unknown or expired token yields 403.
func (v *Verifier) handleAuth(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		server.WriteError(w, server.ErrorTokenUnknown, "access_token is required")
		return
	}
	result := v.VerificationResult(token)
	if result == nil {
		server.WriteError(w, server.ErrorTokenUnknown, "unknown or expired access token")
		return
	}
	server.WriteJson(w, result)
}

func (v *Verifier) handleListWallets(w http.ResponseWriter, r *http.Request) {
	if err := v.registry.Reload(); err != nil {
		server.WriteError(w, server.ErrorInternal, server.LogError(err).Error())
		return
	}
	server.WriteJson(w, v.registry.List(registry.KindWallet))
}

func (v *Verifier) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	var entry registry.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		server.WriteError(w, server.ErrorMalformedInput, err.Error())
		return
	}
	if err := v.registry.Add(registry.KindWallet, entry); err != nil {
		server.WriteError(w, server.ErrorInvalidRequest, err.Error())
		return
	}
	server.WriteString(w, entry.ID)
}

func (v *Verifier) handleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	if err := v.registry.Remove(registry.KindWallet, chi.URLParam(r, "id")); err != nil {
		server.WriteError(w, server.ErrorInvalidRequest, err.Error())
		return
	}
	server.WriteString(w, "OK")
}
