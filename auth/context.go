package auth

import (
	"context"
)

const claimsKey privateKey = "claims"

type privateKey string

// SetClaims stores verified access-credential claims in the context.
func SetClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims returns the verified claims of the request, or nil if the
// request did not carry a valid access credential.
func GetClaims(ctx context.Context) *Claims {
	if temp := ctx.Value(claimsKey); temp != nil {
		if claims, ok := temp.(*Claims); ok {
			return claims
		}
	}
	return nil
}
