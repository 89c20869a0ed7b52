package tuya

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientNetwork marks failures worth retrying: timeouts, resets, 5xx, garbled replies.
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrAuthenticationFailed marks rejected credentials or signatures.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrResolutionFailed is returned when no data center accepts the credentials.
	ErrResolutionFailed = errors.New("data center resolution failed")
	// ErrCommandRejected is returned when the cloud refuses a command.
	ErrCommandRejected = errors.New("command rejected")
	// ErrMalformedRequest marks requests that cannot be signed; it is a programming error.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrSessionClosed is returned by calls made after the session was closed.
	ErrSessionClosed = errors.New("cloud session closed")

	// errTokenRejected marks an expired or revoked access token; the token is dropped and the call retried.
	errTokenRejected = errors.New("access token rejected")
)

// Cloud error codes with a dedicated recovery path.
const (
	codeSystemError     = 500
	codeSecretInvalid   = 1001
	codeTokenIsNull     = 1002
	codeSignInvalid     = 1004
	codeClientIDInvalid = 1005
	codeTokenInvalid    = 1010
	codeTokenExpired    = 1011
	codeTimeInvalid     = 1013
)

// APIError is a reply with success=false.
type APIError struct {
	// Code is the cloud error code.
	Code int
	// Msg is the cloud error message.
	Msg string
	// HTTPStatus is the status code of the reply.
	HTTPStatus int
	// Path is the request path that failed.
	Path string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("cloud error %d on %s: %s", e.Code, e.Path, e.Msg)
}

// Unwrap classifies the error so callers can match it with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeSecretInvalid, codeSignInvalid, codeClientIDInvalid, codeTimeInvalid:
		return ErrAuthenticationFailed
	case codeTokenIsNull, codeTokenInvalid, codeTokenExpired:
		return errTokenRejected
	case codeSystemError:
		return ErrTransientNetwork
	default:
		return nil
	}
}

// IsSignatureError reports whether the cloud rejected the signature itself,
// which is the symptom of a scheme mismatch.
func (e *APIError) IsSignatureError() bool {
	return e.Code == codeSignInvalid
}

// IsRetriable reports whether err belongs to the transient class.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}
