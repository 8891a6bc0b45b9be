// Package verifier implements the relying-party side of the credential
// exchange: it mints SIOPv2 presentation challenges, validates the holder's
// signed response, and stores the verification outcome behind an unguessable
// access token for the verifier's own application to collect.
package verifier

import (
	"net/url"
	"time"

	"github.com/go-errors/errors"
	"github.com/go-redis/redis/v8"
	"github.com/nuts-foundation/go-did/vc"
	"github.com/sirupsen/logrus"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/registry"
	"github.com/vcwallet/walletkit/server/sessionstore"
	"github.com/vcwallet/walletkit/server/signer"
)

// Verifier drives presentation challenges and their validation.
type Verifier struct {
	conf     *server.Configuration
	registry *registry.Registry

	challenges sessionstore.Store[challenge]
	results    sessionstore.Store[Result]
}

// challenge is a pending presentation request, keyed by its state value.
type challenge struct {
	Request  walletkit.SIOPv2Request `json:"request"`
	Consumed bool                    `json:"consumed"`
}

// Result is the outcome of a response verification, keyed by access token.
// It stays retrievable until the store expires it; access is gated only by
// possession of the token.
type Result struct {
	Token        string                     `json:"access_token"`
	Valid        bool                       `json:"valid"`
	Subject      string                     `json:"subject,omitempty"`
	Presentation *vc.VerifiablePresentation `json:"presentation,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
	VerifiedAt   time.Time                  `json:"verifiedAt"`
}

// New creates a Verifier. The registry supplies the holder wallets a
// challenge can be addressed to; client is only used for the Redis store
// backend.
func New(conf *server.Configuration, reg *registry.Registry, client *redis.Client) (*Verifier, error) {
	challenges, err := sessionstore.New[challenge](conf, "challenge:", client)
	if err != nil {
		return nil, err
	}
	results, err := sessionstore.New[Result](conf, "result:", client)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		conf:       conf,
		registry:   reg,
		challenges: challenges,
		results:    results,
	}, nil
}

// Stop releases store resources.
func (v *Verifier) Stop() {
	v.challenges.Close()
	v.results.Close()
}

// NewRequest mints a presentation challenge for the given credential schemas
// with fresh state and nonce values. customQuery is carried through on the
// challenge's redirect URI untouched, so the response redirect restores the
// caller's own parameters.
func (v *Verifier) NewRequest(schemaURIs []string, customQuery string) (*walletkit.SIOPv2Request, error) {
	if len(schemaURIs) == 0 {
		return nil, errors.New("no schema URI(s) given")
	}

	now := time.Now()
	request := &walletkit.SIOPv2Request{
		ResponseType: "id_token",
		ClientID:     v.conf.URL,
		RedirectURI:  walletkit.AppendQuery(v.conf.URL+"/verify", customQuery),
		Scope:        "openid",
		State:        server.NewToken(),
		Nonce:        server.NewToken(),
		Registration: &walletkit.Registration{
			ClientName:                       "walletkit verifier",
			IDTokenSigningAlgValuesSupported: []string{"EdDSA"},
			SubjectIdentifierTypesSupported:  []string{"public"},
		},
		IssuedAt:   now.Unix(),
		Expiration: now.Add(v.conf.SessionLifetime).Unix(),
		Claims:     walletkit.NewClaims(schemaURIs),
	}
	if err := v.challenges.Add(request.State, challenge{Request: *request}); err != nil {
		return nil, err
	}
	v.conf.Logger.WithFields(logrus.Fields{"state": request.State}).Debug("New presentation challenge issued")
	if v.conf.Logger.IsLevelEnabled(logrus.TraceLevel) {
		v.conf.Logger.Trace("Challenge request: ", server.ToJson(request))
	}
	return request, nil
}

// VerifyResponse resolves the challenge behind state and validates the
// holder's id_token and vp_token against it. Each state resolves at most
// once: a second call fails with server.ErrStateUnknown, as does an unknown
// or expired state. Cryptographic failure is not an error: it yields a
// Result with Valid=false so the caller can still redirect the user to a
// diagnosable outcome.
func (v *Verifier) VerifyResponse(state, idToken, vpToken string) (*Result, error) {
	var ch challenge
	err := v.challenges.Update(state, func(c *challenge) error {
		if c.Consumed {
			return server.ErrStateUnknown
		}
		c.Consumed = true
		ch = *c
		return nil
	})
	if err != nil {
		if errors.Is(err, sessionstore.ErrNoSession) || errors.Is(err, server.ErrStateUnknown) {
			return nil, server.ErrStateUnknown
		}
		return nil, err
	}
	v.challenges.Delete(state)

	result := Result{
		Token:      server.NewToken(),
		VerifiedAt: time.Now(),
	}
	result.Valid, result.Subject, result.Presentation, result.Reason = v.validate(&ch.Request, idToken, vpToken)

	if err := v.results.Add(result.Token, result); err != nil {
		return nil, err
	}
	v.conf.Logger.WithFields(logrus.Fields{"state": state, "valid": result.Valid}).Info("Presentation response verified")
	return &result, nil
}

func (v *Verifier) validate(request *walletkit.SIOPv2Request, idToken, vpToken string) (valid bool, subject string, presentation *vc.VerifiablePresentation, reason string) {
	subject, _, err := signer.VerifyIDToken(idToken, request.Nonce)
	if err != nil {
		return false, "", nil, "id_token: " + err.Error()
	}
	presentation, err = signer.VerifyVPToken(vpToken, request.Nonce)
	if err != nil {
		return false, subject, nil, "vp_token: " + err.Error()
	}

	presented := signer.PresentedSchemas(presentation)
	for _, requested := range request.Claims.SchemaURIs() {
		if !contains(presented, requested) {
			return false, subject, presentation, "requested schema not presented: " + requested
		}
	}
	return true, subject, presentation, ""
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// VerificationResult returns the result behind an access token, or nil if
// the token is unknown or expired. Reading does not invalidate the token.
func (v *Verifier) VerificationResult(accessToken string) *Result {
	result, err := v.results.Get(accessToken)
	if err != nil {
		return nil
	}
	return &result
}

// RedirectionURI builds the verifier-UI redirect for a verification result,
// carrying the access token and, on failure, an explicit invalid marker.
func (v *Verifier) RedirectionURI(result *Result, uiBaseURL string) string {
	params := url.Values{"access_token": {result.Token}}
	if !result.Valid {
		params.Set("valid", "false")
	}
	return walletkit.AppendQuery(uiBaseURL, params.Encode())
}
