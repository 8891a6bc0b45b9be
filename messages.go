package walletkit

import (
	"net/url"
	"strconv"
	"time"

	"github.com/go-errors/errors"
	"github.com/nuts-foundation/go-did/vc"
)

// SIOPv2Request is the authentication request a verifier (or, during passive
// issuance, an issuer) sends to the holder wallet by redirecting the user's
// browser. It is parsed from and serialized to URL query parameters; all
// parameters needed to construct the eventual response redirect are retained,
// including ones this package does not interpret (CustomParameters).
type SIOPv2Request struct {
	ResponseType string        `json:"response_type"`
	ClientID     string        `json:"client_id"`
	RedirectURI  string        `json:"redirect_uri"`
	Scope        string        `json:"scope"`
	State        string        `json:"state"`
	Nonce        string        `json:"nonce"`
	Registration *Registration `json:"registration,omitempty"`
	Expiration   int64         `json:"exp,omitempty"`
	IssuedAt     int64         `json:"iat,omitempty"`
	Claims       Claims        `json:"claims"`

	// SubjectDID is only set on passive issuance requests, where the issuer
	// pre-announces the DID it will issue to.
	SubjectDID string `json:"subject_did,omitempty"`

	// CustomParameters holds query parameters not interpreted by this package.
	// They survive a parse/serialize round trip unmodified, and are part of
	// the JSON form so stored sessions retain them across any store backend.
	CustomParameters url.Values `json:"custom_parameters,omitempty"`
}

// Registration is the self-issued OP registration metadata embedded in a
// SIOPv2 request, announcing what the requesting party supports.
type Registration struct {
	ClientName                       string   `json:"client_name,omitempty"`
	ClientPurpose                    string   `json:"client_purpose,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	SubjectIdentifierTypesSupported  []string `json:"subject_identifier_types_supported,omitempty"`
}

// Claims describes the credentials the requesting party wants presented.
type Claims struct {
	VPToken *VPTokenClaim `json:"vp_token,omitempty"`
}

// VPTokenClaim wraps the presentation definition for the requested vp_token.
type VPTokenClaim struct {
	PresentationDefinition PresentationDefinition `json:"presentation_definition"`
}

// PresentationDefinition constrains the credentials to be presented to a set
// of input descriptors, one per requested credential schema.
type PresentationDefinition struct {
	ID               string            `json:"id"`
	InputDescriptors []InputDescriptor `json:"input_descriptors"`
}

// InputDescriptor requests a single credential by schema URI.
type InputDescriptor struct {
	ID     string           `json:"id"`
	Schema CredentialSchema `json:"schema"`
}

// CredentialSchema identifies a credential type by its schema URI.
type CredentialSchema struct {
	URI string `json:"uri"`
}

// SchemaURIs returns the credential schema URIs requested by the claims, in
// input descriptor order.
func (c Claims) SchemaURIs() []string {
	if c.VPToken == nil {
		return nil
	}
	uris := make([]string, 0, len(c.VPToken.PresentationDefinition.InputDescriptors))
	for _, descriptor := range c.VPToken.PresentationDefinition.InputDescriptors {
		uris = append(uris, descriptor.Schema.URI)
	}
	return uris
}

// NewClaims builds the claims structure requesting the given schema URIs.
func NewClaims(schemaURIs []string) Claims {
	descriptors := make([]InputDescriptor, 0, len(schemaURIs))
	for i, uri := range schemaURIs {
		descriptors = append(descriptors, InputDescriptor{
			ID:     strconv.Itoa(i + 1),
			Schema: CredentialSchema{URI: uri},
		})
	}
	return Claims{VPToken: &VPTokenClaim{
		PresentationDefinition: PresentationDefinition{ID: "1", InputDescriptors: descriptors},
	}}
}

// Expired reports whether the request's exp timestamp, if any, has passed.
func (r *SIOPv2Request) Expired(now time.Time) bool {
	return r.Expiration != 0 && now.Unix() > r.Expiration
}

// SIOPv2Response carries the holder's signed response back to the requesting
// party. It is posted as a form to the request's redirect URI.
type SIOPv2Response struct {
	IDToken string `json:"id_token"`
	VPToken string `json:"vp_token"`
	State   string `json:"state"`
}

// FormValues returns the response as form parameters for the redirect-back
// POST to the verifier.
func (r *SIOPv2Response) FormValues() url.Values {
	return url.Values{
		"id_token": {r.IDToken},
		"vp_token": {r.VPToken},
		"state":    {r.State},
	}
}

// PresentableCredential is a credential from the holder's store, paired with
// the schema it satisfies, as offered to and selected by the wallet UI.
type PresentableCredential struct {
	ID         string                  `json:"id"`
	SchemaURI  string                  `json:"schemaUri"`
	Credential vc.VerifiableCredential `json:"credential"`
}

// CredentialIssuanceRequest asks the wallet to obtain credentials of the given
// schemas from a configured issuer via the authorization-code flow.
type CredentialIssuanceRequest struct {
	IssuerID   string   `json:"issuerId"`
	SchemaURIs []string `json:"schemaUris"`

	// WalletRedirectURI overrides the wallet's default finalize endpoint in
	// the authorization request, if set.
	WalletRedirectURI string `json:"walletRedirectUri,omitempty"`
}

// Validate checks the request for the fields issuance cannot start without.
func (r *CredentialIssuanceRequest) Validate() error {
	if r.IssuerID == "" {
		return errors.New("no issuer id specified")
	}
	if len(r.SchemaURIs) == 0 {
		return errors.New("no credential schema URIs specified")
	}
	return nil
}

// UserInfo identifies the authenticated wallet user on whose behalf issuance
// runs. Authentication itself happens outside this module; the subject is
// threaded through opaquely.
type UserInfo struct {
	Subject string `json:"id"`
	Email   string `json:"email,omitempty"`
}
