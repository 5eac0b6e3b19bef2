/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package authzerr defines the failure kinds reported by credential verification and authorization.
package authzerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell rejection reasons apart.
type Kind string

// Failure kinds.
const (
	KeyFormatError             Kind = "KeyFormatError"
	DidResolutionError         Kind = "DidResolutionError"
	VerificationMethodNotFound Kind = "VerificationMethodNotFound"
	CredentialMalformedError   Kind = "CredentialMalformedError"
	SignatureInvalidError      Kind = "SignatureInvalidError"
	ExpiredCredentialError     Kind = "ExpiredCredentialError"
	SubjectMismatchError       Kind = "SubjectMismatchError"
	ChallengeMismatchError     Kind = "ChallengeMismatchError"
	ScopeInsufficientError     Kind = "ScopeInsufficientError"
	AuthorizationDeniedError   Kind = "AuthorizationDeniedError"

	IssuerKeyUnresolvable  Kind = "IssuerKeyUnresolvable"
	ClaimValidationError   Kind = "ClaimValidationError"
	ProofPurposeMismatch   Kind = "ProofPurposeMismatch"
	CredentialRevoked      Kind = "CredentialRevoked"
	CredentialTypeMismatch Kind = "CredentialTypeMismatch"
	AuthorizationTimeout   Kind = "AuthorizationTimeout"
)

// Error is a failure tagged with its kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}

	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err.Error())
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against another *Error of the same kind, so a bare
// authzerr.New(kind, "") works as a sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
