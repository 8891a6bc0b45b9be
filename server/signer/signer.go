// Package signer builds and validates the self-issued id_token and vp_token
// JWTs exchanged in SIOPv2 flows. Tokens are signed with the holder DID's
// Ed25519 key; verification resolves the public key from the did:key
// identifier in the token's issuer claim, so any party can verify without
// shared state.
package signer

import (
	"time"

	"github.com/go-errors/errors"
	"github.com/golang-jwt/jwt/v5"
	ssi "github.com/nuts-foundation/go-did"
	"github.com/nuts-foundation/go-did/vc"

	"github.com/vcwallet/walletkit/server/identity"
)

var ErrNonceMismatch = errors.New("token nonce does not match the challenge nonce")

// TokenValidity is the lifetime stamped into signed tokens. A token only
// needs to survive the redirect back to the requesting party.
const TokenValidity = 5 * time.Minute

// Signer signs tokens on behalf of holder DIDs minted by the wallet.
type Signer struct {
	dids *identity.DIDs
}

func New(dids *identity.DIDs) *Signer {
	return &Signer{dids: dids}
}

// IDTokenClaims are the claims of a self-issued OP id_token.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// VPTokenClaims wrap a verifiable presentation in a signed vp_token.
type VPTokenClaims struct {
	jwt.RegisteredClaims
	Nonce        string                    `json:"nonce"`
	Presentation vc.VerifiablePresentation `json:"vp"`
}

// SignIDToken produces the self-issued id_token for holderDID, bound to the
// challenge nonce and addressed to the requesting party.
func (s *Signer) SignIDToken(holderDID, audience, nonce string) (string, error) {
	now := time.Now()
	claims := IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    holderDID,
			Subject:   holderDID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenValidity)),
		},
		Nonce: nonce,
	}
	return s.sign(holderDID, claims)
}

// SignVPToken produces the vp_token holding a presentation of the given
// credentials, bound to the challenge nonce.
func (s *Signer) SignVPToken(holderDID, audience, nonce string, credentials []vc.VerifiableCredential) (string, error) {
	holder := ssi.MustParseURI(holderDID)
	presentation := vc.VerifiablePresentation{
		Context:              []ssi.URI{vc.VCContextV1URI()},
		Type:                 []ssi.URI{ssi.MustParseURI("VerifiablePresentation")},
		Holder:               &holder,
		VerifiableCredential: credentials,
	}

	now := time.Now()
	claims := VPTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    holderDID,
			Subject:   holderDID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenValidity)),
		},
		Nonce:        nonce,
		Presentation: presentation,
	}
	return s.sign(holderDID, claims)
}

func (s *Signer) sign(holderDID string, claims jwt.Claims) (string, error) {
	key, err := s.dids.SigningKey(holderDID)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = holderDID + "#" + holderDID[len("did:key:"):]
	signed, err := token.SignedString(key.Signer())
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return signed, nil
}

// VerifyIDToken validates signature, expiry and nonce binding of a
// self-issued id_token and returns the holder DID it asserts.
func VerifyIDToken(token, expectedNonce string) (string, *IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	if err := parse(token, claims); err != nil {
		return "", nil, err
	}
	if claims.Nonce != expectedNonce {
		return "", nil, ErrNonceMismatch
	}
	if claims.Issuer != claims.Subject {
		return "", nil, errors.New("id_token is not self-issued: iss and sub differ")
	}
	return claims.Subject, claims, nil
}

// VerifyVPToken validates signature, expiry and nonce binding of a vp_token
// and returns the embedded presentation.
func VerifyVPToken(token, expectedNonce string) (*vc.VerifiablePresentation, error) {
	claims := &VPTokenClaims{}
	if err := parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Nonce != expectedNonce {
		return nil, ErrNonceMismatch
	}
	return &claims.Presentation, nil
}

func parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, selfIssuedKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return errors.WrapPrefix(err, "token validation failed", 0)
	}
	return nil
}

// selfIssuedKey resolves the verification key from the token's own issuer
// claim, which must be a did:key DID.
func selfIssuedKey(token *jwt.Token) (interface{}, error) {
	issuer, err := token.Claims.GetIssuer()
	if err != nil {
		return nil, err
	}
	return identity.PublicKeyOf(issuer)
}

// PresentedSchemas returns the schema URIs asserted by the credentials in a
// presentation: every credential type that is an absolute URI.
func PresentedSchemas(presentation *vc.VerifiablePresentation) []string {
	var schemas []string
	for _, credential := range presentation.VerifiableCredential {
		for _, typ := range credential.Type {
			if uri := typ.String(); uri != "VerifiableCredential" && typ.IsAbs() {
				schemas = append(schemas, uri)
			}
		}
	}
	return schemas
}
