package utils // package utils provides helpers for inspecting bearer tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library used to read claims from IAM access tokens
)

// TokenInfo carries the claims of an IAM access token that are useful for
// logging and expiry handling.  None of them is secret.
type TokenInfo struct {
	Subject  string    // the "sub" claim (IAM id of the API key owner)
	Expiry   time.Time // the "exp" claim, zero when absent
	IssuedAt time.Time // the "iat" claim, zero when absent
}

// ErrNotJWT is returned when an access token is not a parseable JWT.
var ErrNotJWT = errors.New("access token is not a JWT")

// InspectAccessToken reads the claims of a bearer token without verifying
// its signature.  The service never trusts these claims for authorization;
// IAM already vouched for the token and Secrets Manager verifies it again.
// They are only used to fill in a missing expiry and to annotate logs.
func InspectAccessToken(raw string) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}, errors.Join(ErrNotJWT, err)
	}
	var info TokenInfo
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.Expiry = exp.Time.UTC()
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time.UTC()
	}
	return info, nil
}
