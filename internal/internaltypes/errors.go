package internaltypes

import "errors"

var (
	ErrConfigMissing  = errors.New("configuration missing")
	ErrConfigInvalid  = errors.New("configuration invalid")
	ErrAuthentication = errors.New("authentication failed")
	ErrRemoteRequest  = errors.New("remote request failed")
	ErrParse          = errors.New("unexpected response format")
)

// Kind names the taxonomy bucket of err for structured logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigMissing):
		return "configuration_missing"
	case errors.Is(err, ErrConfigInvalid):
		return "configuration_invalid"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrRemoteRequest):
		return "remote_request"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "unknown"
	}
}
