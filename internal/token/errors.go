package token

import "errors"

// Verification failures. Every failure is fail-closed: callers must treat
// any of these as "no context", never as a partially trusted token.
var (
	ErrMalformedToken   = errors.New("token: malformed token")
	ErrSignatureInvalid = errors.New("token: signature invalid")
	ErrExpired          = errors.New("token: expired")
	ErrIssuerMismatch   = errors.New("token: issuer mismatch")
	ErrAudienceMismatch = errors.New("token: audience mismatch")
)
