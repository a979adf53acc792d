package bluesky

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry reads the exp claim of an access JWT without verifying it.
// The PDS issued the token to us; only its lifetime matters here.
func tokenExpiry(tokenString string) (time.Time, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("no exp claim in token")
	}
	return exp.Time, nil
}
