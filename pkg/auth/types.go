package auth

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// UserIdentity is the caller decoded from a verified token.
type UserIdentity struct {
	UserID int64 `json:"user_id"`
}

var errMissingUserID = errors.New("identity claim has no user_id")

// UnmarshalJSON requires user_id to be present.
func (u *UserIdentity) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID *int64 `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.UserID == nil {
		return errMissingUserID
	}
	u.UserID = *raw.UserID
	return nil
}

// String returns the user id in decimal form.
func (u UserIdentity) String() string {
	return strconv.FormatInt(u.UserID, 10)
}

// Claims is the token payload: {"exp", "iss", "iat", "cla": {"user_id"}}. All four are
// required; a nil IssuedAt or Identity after parsing means the claim was absent.
type Claims struct {
	Issuer    string           `json:"iss"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	Identity  *UserIdentity    `json:"cla"`
}

// GetExpirationTime implements jwt.Claims.
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return c.ExpiresAt, nil
}

// GetIssuedAt implements jwt.Claims.
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return c.IssuedAt, nil
}

// GetNotBefore implements jwt.Claims. The gateway does not use nbf.
func (c Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims.
func (c Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

// GetSubject implements jwt.Claims.
func (c Claims) GetSubject() (string, error) {
	return "", nil
}

// GetAudience implements jwt.Claims.
func (c Claims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}
