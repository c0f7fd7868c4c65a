// Package auth holds the gateway's bearer-token primitives: parsing the
// Authorization header, constant-time key matching, and the per-request
// principal carried in the context.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// MatchKey reports whether token equals one of the configured keys. Every
// configured key is compared, so response timing does not reveal which key
// came close.
func MatchKey(keys []string, token string) bool {
	matched := 0
	for _, key := range keys {
		if len(key) != len(token) {
			// Burn a compare anyway to keep the loop cost uniform.
			subtle.ConstantTimeCompare([]byte(key), []byte(key))
			continue
		}
		matched |= subtle.ConstantTimeCompare([]byte(key), []byte(token))
	}
	return matched == 1
}
