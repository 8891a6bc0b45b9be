package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/nuts-foundation/go-did/vc"

	"github.com/vcwallet/walletkit"
	"github.com/vcwallet/walletkit/server"
	"github.com/vcwallet/walletkit/server/registry"
)

// IssuerClient performs the wallet's outbound calls to credential issuers:
// the authorization-code exchange of active issuance and the
// presentation-response post of passive issuance. Calls are bounded by the
// configured upstream timeout; transport errors are retried, HTTP-level
// errors are not, since redirect-based flows are retried by the user anyway.
type IssuerClient struct {
	client  *retryablehttp.Client
	timeout time.Duration
}

func NewIssuerClient(conf *server.Configuration) *IssuerClient {
	return &IssuerClient{
		timeout: conf.UpstreamTimeout,
		client: &retryablehttp.Client{
			Logger:       nil,
			RetryWaitMin: 100 * time.Millisecond,
			RetryWaitMax: 200 * time.Millisecond,
			RetryMax:     2,
			Backoff:      retryablehttp.DefaultBackoff,
			CheckRetry: func(ctx context.Context, resp *http.Response, err error) (bool, error) {
				if cerr := ctx.Err(); cerr != nil {
					return false, cerr
				}
				// Don't retry on 5xx (which retryablehttp does by default)
				return err != nil || resp.StatusCode == 0, err
			},
			HTTPClient: &http.Client{Timeout: conf.UpstreamTimeout},
		},
	}
}

// credentialResponse is the issuer's reply to both exchange flavours.
type credentialResponse struct {
	Credentials []vc.VerifiableCredential `json:"credentials"`
}

// ExchangeCode trades an authorization code at the issuer's token endpoint
// for the issued credentials.
func (c *IssuerClient) ExchangeCode(ctx context.Context, issuer registry.Entry, code, state string) ([]vc.VerifiableCredential, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
		"state":      {state},
	}
	return c.postForm(ctx, issuer.URL+issuer.TokenPath, form)
}

// PostResponse delivers a signed presentation response to the issuer's
// redirect URI and returns the credentials issued in return. Used by passive
// issuance, where the presentation itself is the authorization.
func (c *IssuerClient) PostResponse(ctx context.Context, redirectURI string, response *walletkit.SIOPv2Response, subject string) ([]vc.VerifiableCredential, error) {
	form := response.FormValues()
	form.Set("subject", subject)
	return c.postForm(ctx, redirectURI, form)
}

func (c *IssuerClient) postForm(ctx context.Context, uri string, form url.Values) ([]vc.VerifiableCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, uri,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.WrapPrefix(server.ErrUpstreamFailure, err.Error(), 0)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapPrefix(server.ErrUpstreamFailure, err.Error(), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapPrefix(server.ErrUpstreamFailure,
			"issuer returned status "+resp.Status, 0)
	}
	var parsed credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.WrapPrefix(server.ErrUpstreamFailure,
			"failed to parse issuer response: "+err.Error(), 0)
	}
	return parsed.Credentials, nil
}
