package source

import "errors"

// Fetch failures fall into three classes so callers can decide whether to
// retry, re-authenticate or discard the payload.
var (
	// ErrAuthentication marks a request the feed rejected with 401 or 403.
	ErrAuthentication = errors.New("authentication rejected by data source")

	// ErrCommunication marks timeouts, transport failures and unexpected
	// HTTP status codes.
	ErrCommunication = errors.New("communication failure with data source")

	// ErrParse marks a response body that could not be decoded as CSV.
	ErrParse = errors.New("malformed data source payload")
)
