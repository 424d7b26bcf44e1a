package ppsr

import (
	"errors"
	"fmt"
)

// AuthError means the token endpoint refused to issue a token or answered
// with something that is not a token. The workflow cannot continue.
type AuthError struct {
	StatusCode int
	// Reason is the OAuth error code (e.g. invalid_client) when the endpoint
	// supplied one. It never contains credentials.
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "ppsr: token request failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// SearchError is a malformed search request or a search the gateway
// rejected with hasError=true. Code and Description come from the first
// gateway error.
type SearchError struct {
	Code        string
	Description string
}

func (e *SearchError) Error() string {
	if e.Code == "" {
		return "ppsr: search rejected: " + e.Description
	}
	return fmt.Sprintf("ppsr: search rejected: %s: %s", e.Code, e.Description)
}

// CertificateNotReadyError is returned once the poller used every attempt
// and the gateway still reported the certificate as not yet processed.
type CertificateNotReadyError struct {
	Ref      string
	Attempts int
}

func (e *CertificateNotReadyError) Error() string {
	return fmt.Sprintf("ppsr: certificate %s not ready after %d attempts", e.Ref, e.Attempts)
}

// GatewayError is any other failed gateway call: an unexpected status, a
// malformed body or a gateway error code that is not retryable.
type GatewayError struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *GatewayError) Error() string {
	msg := "ppsr: " + e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// notReadyError marks an attempt that may succeed if repeated later. It
// never leaves the package; exhausted polls surface CertificateNotReadyError.
type notReadyError struct {
	reason string
}

func (e *notReadyError) Error() string { return "not ready: " + e.reason }

func isNotReady(err error) bool {
	var nr *notReadyError
	return errors.As(err, &nr)
}

// ErrorCode returns a short, non-sensitive code describing err. It is what
// gets persisted on a report row and shown to operators.
func ErrorCode(err error) string {
	var (
		authErr     *AuthError
		searchErr   *SearchError
		notReadyErr *CertificateNotReadyError
		gatewayErr  *GatewayError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "auth_failed"
	case errors.As(err, &searchErr):
		if searchErr.Code != "" {
			return "search_rejected:" + searchErr.Code
		}
		return "search_rejected"
	case errors.As(err, &notReadyErr):
		return "certificate_not_ready"
	case errors.As(err, &gatewayErr):
		if gatewayErr.Code != "" {
			return gatewayErr.Op + "_failed:" + gatewayErr.Code
		}
		if gatewayErr.StatusCode != 0 {
			return fmt.Sprintf("%s_failed:%d", gatewayErr.Op, gatewayErr.StatusCode)
		}
		return gatewayErr.Op + "_failed"
	default:
		return "internal_error"
	}
}
