package authz

import "fmt"

// Forbidden-class error codes. Shape mismatches (unknown role, operation
// not granted, column outside the allow-set) are reported as plain false
// results, never as errors; these codes cover claim and policy failures
// that must reject the request outright.
const (
	CodeMissingClaim   = "FORBIDDEN_MISSING_CLAIM"
	CodeDuplicateClaim = "FORBIDDEN_DUPLICATE_CLAIM"
	CodeClaimType      = "FORBIDDEN_CLAIM_TYPE"
	CodePolicy         = "FORBIDDEN_POLICY"
)

// Error is the single error kind raised by the authorization engine. All
// instances carry HTTP 403 semantics; the transport layer converts them to
// the wire-level error response.
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func forbidden(code, format string, args ...any) *Error {
	return &Error{Code: code, Status: 403, Message: fmt.Sprintf(format, args...)}
}
