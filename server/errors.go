package server

import "github.com/go-errors/errors"

// Error is an error that occurred during a credential exchange session, as
// reported to HTTP callers.
type Error struct {
	Type        ErrorType `json:"error"`
	Status      int       `json:"status"`
	Description string    `json:"description"`
}

type ErrorType string

var (
	ErrorMalformedInput   = Error{Type: "MALFORMED_INPUT", Status: 400, Description: "Input could not be parsed"}
	ErrorInvalidRequest   = Error{Type: "INVALID_REQUEST", Status: 400, Description: "Invalid HTTP request"}
	ErrorSessionUnknown   = Error{Type: "SESSION_UNKNOWN", Status: 400, Description: "Unknown or expired session"}
	ErrorStateUnknown     = Error{Type: "STATE_UNKNOWN", Status: 400, Description: "Unknown, expired or already consumed state"}
	ErrorInvalidState     = Error{Type: "INVALID_SESSION_STATE", Status: 400, Description: "Session is not in the required state for this operation"}
	ErrorSelectionInvalid = Error{Type: "SELECTION_MISMATCH", Status: 400, Description: "Selected credential does not satisfy the requested schemas"}
	ErrorForbidden        = Error{Type: "FORBIDDEN", Status: 403, Description: "Not authorized for this resource"}
	ErrorTokenUnknown     = Error{Type: "TOKEN_UNKNOWN", Status: 403, Description: "Unknown or expired access token"}
	ErrorUpstreamFailure  = Error{Type: "UPSTREAM_FAILURE", Status: 500, Description: "An external issuer, verifier or DID service call failed"}
	ErrorInternal         = Error{Type: "EXCEPTION", Status: 500, Description: "Encountered unexpected problem"}
)

// Sentinel errors returned by the session engines. HTTP handlers translate
// them to the wire errors above with TranslateError.
var (
	ErrSessionUnknown    = errors.New("unknown or expired session")
	ErrStateUnknown      = errors.New("unknown, expired or consumed state")
	ErrInvalidState      = errors.New("operation not allowed in current session state")
	ErrSelectionMismatch = errors.New("selected credential does not match requested schemas")
	ErrUpstreamFailure   = errors.New("upstream call failed")
)

// TranslateError maps an engine error onto the wire error taxonomy.
func TranslateError(err error) Error {
	switch {
	case errors.Is(err, ErrSessionUnknown):
		return ErrorSessionUnknown
	case errors.Is(err, ErrStateUnknown):
		return ErrorStateUnknown
	case errors.Is(err, ErrInvalidState):
		return ErrorInvalidState
	case errors.Is(err, ErrSelectionMismatch):
		return ErrorSelectionInvalid
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorUpstreamFailure
	default:
		return ErrorInternal
	}
}
