package clerkx

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the category of a verification rejection.
type ErrorCode string

const (
	ErrCodeMalformedToken          ErrorCode = "malformed_token"
	ErrCodeBadSignature            ErrorCode = "bad_signature"
	ErrCodeAlgorithmNotAllowed     ErrorCode = "algorithm_not_allowed"
	ErrCodeUnknownKey              ErrorCode = "unknown_key"
	ErrCodeIssuerMismatch          ErrorCode = "issuer_mismatch"
	ErrCodeAudienceMismatch        ErrorCode = "audience_mismatch"
	ErrCodeExpired                 ErrorCode = "token_expired"
	ErrCodeNotYetValid             ErrorCode = "token_not_yet_valid"
	ErrCodeAuthorizedPartyMismatch ErrorCode = "authorized_party_mismatch"
	ErrCodeInsufficientRole        ErrorCode = "insufficient_role"
	ErrCodeKeySetUnavailable       ErrorCode = "keyset_unavailable"
	ErrCodeInternal                ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeMalformedToken:          "Malformed token",
	ErrCodeBadSignature:            "Bad signature",
	ErrCodeAlgorithmNotAllowed:     "Algorithm not allowed",
	ErrCodeUnknownKey:              "Unknown signing key",
	ErrCodeIssuerMismatch:          "Issuer mismatch",
	ErrCodeAudienceMismatch:        "Audience mismatch",
	ErrCodeExpired:                 "Token expired",
	ErrCodeNotYetValid:             "Token not yet valid",
	ErrCodeAuthorizedPartyMismatch: "Authorized party mismatch",
	ErrCodeInsufficientRole:        "Insufficient role",
	ErrCodeKeySetUnavailable:       "Key set unavailable",
	ErrCodeInternal:                "Internal error",
}

// Error wraps verification rejections with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the rejection is safe to retry on a later
// request. Only key set fetch failures qualify; every other code means the
// same token will keep failing.
func (e *Error) Transient() bool {
	return e.Code == ErrCodeKeySetUnavailable
}

// CodeOf extracts the rejection code from err, or ErrCodeInternal if err was
// not produced by this package.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}
