// Package auth extracts the session identity from an access token.
//
// The tracker never verifies signatures: the backend does that on every
// request. The token is only read to learn which user's topic to follow.
package auth

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no access token")
	ErrMalformed    = errors.New("access token is not a JWT")
	ErrNoUserClaim  = errors.New("access token has no user id claim")
	ErrTokenExpired = errors.New("access token expired")
)

// userClaims are checked in order.
var userClaims = []string{"uid", "userId", "sub"}

// Identity is what the tracker learns from a token.
type Identity struct {
	UserID    int64
	Email     string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token's exp is in the past at now.
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// ParseToken reads the identity claims from token without verifying it.
func ParseToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var id Identity
	for _, name := range userClaims {
		if uid, ok := claimInt(claims[name]); ok {
			id.UserID = uid
			break
		}
	}
	if id.UserID == 0 {
		return Identity{}, ErrNoUserClaim
	}

	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// UserID is ParseToken reduced to the user id. Expired tokens are
// rejected so a stale session does not subscribe.
func UserID(token string, now time.Time) (int64, error) {
	id, err := ParseToken(token)
	if err != nil {
		return 0, err
	}
	if id.Expired(now) {
		return 0, ErrTokenExpired
	}
	return id.UserID, nil
}

func claimInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n <= 0 || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}
