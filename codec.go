package walletkit

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
)

// Query parameter names interpreted by the SIOPv2 request codec. Anything
// else on an inbound request is preserved verbatim in CustomParameters.
const (
	paramResponseType = "response_type"
	paramClientID     = "client_id"
	paramRedirectURI  = "redirect_uri"
	paramScope        = "scope"
	paramState        = "state"
	paramNonce        = "nonce"
	paramRegistration = "registration"
	paramExpiration   = "exp"
	paramIssuedAt     = "iat"
	paramClaims       = "claims"
	paramSubjectDID   = "subject_did"
)

var reservedParams = map[string]bool{
	paramResponseType: true,
	paramClientID:     true,
	paramRedirectURI:  true,
	paramScope:        true,
	paramState:        true,
	paramNonce:        true,
	paramRegistration: true,
	paramExpiration:   true,
	paramIssuedAt:     true,
	paramClaims:       true,
	paramSubjectDID:   true,
}

// ParseSIOPv2Request decodes a SIOPv2 request from the query parameters of an
// inbound redirect. Parameters the codec does not interpret are collected
// into CustomParameters so that serializing the request again reproduces the
// original parameter set.
func ParseSIOPv2Request(query url.Values) (*SIOPv2Request, error) {
	req := &SIOPv2Request{
		ResponseType: query.Get(paramResponseType),
		ClientID:     query.Get(paramClientID),
		RedirectURI:  query.Get(paramRedirectURI),
		Scope:        query.Get(paramScope),
		State:        query.Get(paramState),
		Nonce:        query.Get(paramNonce),
		SubjectDID:   query.Get(paramSubjectDID),
	}
	if req.RedirectURI == "" {
		return nil, errors.New("siopv2 request without redirect_uri")
	}
	if req.Nonce == "" {
		return nil, errors.New("siopv2 request without nonce")
	}

	var err error
	if v := query.Get(paramExpiration); v != "" {
		if req.Expiration, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, errors.Errorf("invalid exp parameter: %v", err)
		}
	}
	if v := query.Get(paramIssuedAt); v != "" {
		if req.IssuedAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, errors.Errorf("invalid iat parameter: %v", err)
		}
	}
	if v := query.Get(paramRegistration); v != "" {
		req.Registration = &Registration{}
		if err = json.Unmarshal([]byte(v), req.Registration); err != nil {
			return nil, errors.Errorf("invalid registration parameter: %v", err)
		}
	}
	if v := query.Get(paramClaims); v != "" {
		if err = json.Unmarshal([]byte(v), &req.Claims); err != nil {
			return nil, errors.Errorf("invalid claims parameter: %v", err)
		}
	}

	for key, values := range query {
		if reservedParams[key] {
			continue
		}
		if req.CustomParameters == nil {
			req.CustomParameters = url.Values{}
		}
		req.CustomParameters[key] = append([]string(nil), values...)
	}
	return req, nil
}

// ToQueryValues serializes the request into the canonical query parameter
// set, the inverse of ParseSIOPv2Request.
func (r *SIOPv2Request) ToQueryValues() (url.Values, error) {
	values := url.Values{}
	setNonEmpty := func(key, val string) {
		if val != "" {
			values.Set(key, val)
		}
	}
	setNonEmpty(paramResponseType, r.ResponseType)
	setNonEmpty(paramClientID, r.ClientID)
	setNonEmpty(paramRedirectURI, r.RedirectURI)
	setNonEmpty(paramScope, r.Scope)
	setNonEmpty(paramState, r.State)
	setNonEmpty(paramNonce, r.Nonce)
	setNonEmpty(paramSubjectDID, r.SubjectDID)
	if r.Expiration != 0 {
		values.Set(paramExpiration, strconv.FormatInt(r.Expiration, 10))
	}
	if r.IssuedAt != 0 {
		values.Set(paramIssuedAt, strconv.FormatInt(r.IssuedAt, 10))
	}
	if r.Registration != nil {
		bts, err := json.Marshal(r.Registration)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		values.Set(paramRegistration, string(bts))
	}
	if r.Claims.VPToken != nil {
		bts, err := json.Marshal(r.Claims)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		values.Set(paramClaims, string(bts))
	}
	for key, vals := range r.CustomParameters {
		values[key] = append([]string(nil), vals...)
	}
	return values, nil
}

// ToURIQueryString returns the request as an encoded query string suitable
// for appending to a wallet's presentation endpoint.
func (r *SIOPv2Request) ToURIQueryString() (string, error) {
	values, err := r.ToQueryValues()
	if err != nil {
		return "", err
	}
	return values.Encode(), nil
}

// EncodePassthroughQuery encodes all parameters of query except the excluded
// keys into a query-string fragment. Each value is percent-encoded on its
// own; repeated values of a key keep their original order. Keys are emitted
// in sorted order so the encoding is deterministic.
func EncodePassthroughQuery(query url.Values, exclude ...string) string {
	excluded := make(map[string]bool, len(exclude))
	for _, key := range exclude {
		excluded[key] = true
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		if !excluded[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		for _, value := range query[key] {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}
	return strings.Join(parts, "&")
}

// AppendQuery appends the encoded query fragment to a URL that may or may not
// already carry query parameters.
func AppendQuery(uri, query string) string {
	if query == "" {
		return uri
	}
	if strings.Contains(uri, "?") {
		return uri + "&" + query
	}
	return uri + "?" + query
}
