// Package utils holds helpers around the primary backend credentials.
//
// The primary backend hands out JWT API keys whose "role" claim decides what
// row-level security lets the caller do: "anon" keys may read seats and
// perform ordinary seat mutations, only "service_role" keys may perform
// administrative writes. InspectAPIKey reads those claims without verifying
// the signature (the client never holds the signing secret; the backend does
// the verification) so the bridge can route privileged operations to the
// legacy backend up front instead of collecting a 401.
//
// Usage:
//
//	info, err := utils.InspectAPIKey(key)
//	if err != nil {
//	  return err
//	}
//	if info.Expired(time.Now()) {
//	  logger.Warn("primary key expired", "expired_at", info.ExpiresAt)
//	}
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	RoleAnon        = "anon"
	RoleService     = "service_role"
	RoleAuthUser    = "authenticated"
	unknownRoleName = "unknown"
)

// KeyInfo is what the client can learn from an API key.
type KeyInfo struct {
	Role      string
	Issuer    string
	Ref       string // project reference
	IssuedAt  time.Time
	ExpiresAt time.Time // zero when the key never expires
}

// Elevated reports whether the key bypasses row-level security.
func (k *KeyInfo) Elevated() bool { return k != nil && k.Role == RoleService }

// Expired reports whether the key's exp claim is in the past.
func (k *KeyInfo) Expired(now time.Time) bool {
	return k != nil && !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// InspectAPIKey decodes the claims of a JWT API key. Keys that are not JWTs
// (opaque publishable keys) yield a KeyInfo with role "unknown" and no error.
func InspectAPIKey(key string) (*KeyInfo, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("empty api key")
	}
	if strings.Count(key, ".") != 2 {
		return &KeyInfo{Role: unknownRoleName}, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return nil, fmt.Errorf("decode api key claims: %w", err)
	}

	info := &KeyInfo{Role: unknownRoleName}
	if role, ok := claims["role"].(string); ok && role != "" {
		info.Role = role
	}
	if iss, ok := claims["iss"].(string); ok {
		info.Issuer = iss
	}
	if ref, ok := claims["ref"].(string); ok {
		info.Ref = ref
	}
	if exp, ok := numericClaim(claims, "exp"); ok {
		info.ExpiresAt = time.Unix(exp, 0)
	}
	if iat, ok := numericClaim(claims, "iat"); ok {
		info.IssuedAt = time.Unix(iat, 0)
	}
	return info, nil
}

func numericClaim(claims jwt.MapClaims, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
