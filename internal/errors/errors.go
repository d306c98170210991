package errors

import (
	"errors"
	"fmt"
)

// Configuration errors. These surface at construction or first use.
var (
	ErrInvalidAppKey    = errors.New("app key must have the form org#app")
	ErrCacheUnavailable = errors.New("cache backend is not connected")
	ErrCacheUnwritable  = errors.New("cache directory is not writable")
	ErrNoAPIHost        = errors.New("no REST API host available")
)

// ErrAPIResponse marks a 2xx response whose body lacks what the caller
// needs, such as a token response without access_token.
var ErrAPIResponse = errors.New("unexpected API response")

// Validation errors. Returned before any network I/O happens.
var (
	ErrValidation         = errors.New("invalid argument")
	ErrInvalidAppID       = errors.New("app id must be 32 hex characters")
	ErrInvalidCertificate = errors.New("app certificate must be 32 hex characters")
	ErrPrivilegeExpiry    = errors.New("privilege expires before the token")
	ErrUnknownService     = errors.New("unknown service type")
	ErrMalformedToken     = errors.New("malformed access token")
	ErrUnsupportedVersion = errors.New("unsupported access token version")
)

// Invalid wraps ErrValidation with the name of the offending field.
func Invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// ConnectionFailed is the status code used when no HTTP response was
// received at all.
const ConnectionFailed = -1

// RemoteError is the error envelope returned by the REST API, or
// synthesised for a transport failure.
type RemoteError struct {
	Code        int    `json:"code"`
	Message     string `json:"error"`
	Description string `json:"error_description"`
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}

	if e.Description != "" {
		return fmt.Sprintf("remote error (%d): %s: %s", e.Code, msg, e.Description)
	}

	return fmt.Sprintf("remote error (%d): %s", e.Code, msg)
}

// Map returns the envelope in the {code, error, error_description} shape
// callers of the REST API expect.
func (e *RemoteError) Map() map[string]any {
	return map[string]any{
		"code":              e.Code,
		"error":             e.Message,
		"error_description": e.Description,
	}
}

// IsConnectionFailure reports whether the request never got an HTTP
// response.
func (e *RemoteError) IsConnectionFailure() bool {
	return e.Code == ConnectionFailed
}

// AsRemote extracts a *RemoteError from err's chain.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}

	return nil, false
}
