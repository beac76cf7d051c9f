// Package validator decides whether a send request is authorized, given the
// secret retrieved for its access key.
package validator

import (
	"crypto/subtle"
	"net/http"

	"github.com/iliyamo/sms-service/internal/secrets"
)

// Outcome is the result of validating one request.
type Outcome int

const (
	Accepted Outcome = iota
	SecretNotFound
	AuthTokenMismatch
	MissingConfiguration
	UpstreamUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case SecretNotFound:
		return "secret_not_found"
	case AuthTokenMismatch:
		return "auth_token_mismatch"
	case MissingConfiguration:
		return "missing_configuration"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	}
	return "unknown"
}

// HTTPStatus maps an outcome to the status code returned to the caller.
// UpstreamUnavailable maps to 502; the handler upgrades it to 504 when the
// upstream call ran out of time.
func (o Outcome) HTTPStatus() int {
	switch o {
	case Accepted:
		return http.StatusOK
	case SecretNotFound, AuthTokenMismatch:
		return http.StatusForbidden
	case MissingConfiguration:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// Validate compares the caller's token with the one stored in the secret.
// Only a found secret whose non-empty stored token equals callerToken byte
// for byte is Accepted.  The comparison runs in constant time.
func Validate(secret *secrets.Secret, callerToken string) Outcome {
	if !secret.Found() {
		return SecretNotFound
	}
	stored := secret.Payload.AuthToken
	if stored == "" || callerToken == "" {
		return AuthTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(callerToken)) != 1 {
		return AuthTokenMismatch
	}
	return Accepted
}
