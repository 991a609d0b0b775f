package oauthlink

import "errors"

var (
	ErrMissingParams   = errors.New("oauthlink: missing code or state")
	ErrInvalidState    = errors.New("oauthlink: invalid state")
	ErrStateExpired    = errors.New("oauthlink: state expired")
	ErrStateReplayed   = errors.New("oauthlink: state already used")
	ErrProviderDenied  = errors.New("oauthlink: authorization denied")
	ErrExchangeFailed  = errors.New("oauthlink: code exchange failed")
	ErrMissingIdentity = errors.New("oauthlink: grant lacks team or user")
	ErrLinkFailed      = errors.New("oauthlink: link failed")
)

// Redirect error codes shown to the browser.
const (
	CodeMissingParams    = "missing_params"
	CodeInvalidState     = "invalid_state"
	CodeSlackAuthFailed  = "slack_auth_failed"
	CodeMissingSlackData = "missing_slack_data"
	CodeLinkFailed       = "link_failed"
)

// ErrorCode maps a Linker error to the redirect error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingParams):
		return CodeMissingParams
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStateExpired), errors.Is(err, ErrStateReplayed):
		return CodeInvalidState
	case errors.Is(err, ErrProviderDenied), errors.Is(err, ErrExchangeFailed):
		return CodeSlackAuthFailed
	case errors.Is(err, ErrMissingIdentity):
		return CodeMissingSlackData
	default:
		return CodeLinkFailed
	}
}
