/**
 * @description
 * This file contains the authentication middleware for the HTTP router. It validates
 * bearer JWTs, resolves the caller into a `domain.Principal` once per request and
 * offers role gating for staff-only routes.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alumniaid/alumni-service/internal/domain"
)

// PrincipalContextKey is a custom type for the context key to avoid collisions.
type PrincipalContextKey string

const principalKey PrincipalContextKey = "principal"

// AuthOptions carries optional audience and issuer enforcement.
type AuthOptions struct {
	Audience string
	Issuer   string
}

// AuthMiddleware validates the bearer token with keyfunc and stores the caller's
// principal in the request context.
func AuthMiddleware(keyfunc jwt.Keyfunc, opts AuthOptions) func(http.Handler) http.Handler {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "HS256"})}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, keyfunc, parserOpts...)
			if err != nil || !token.Valid {
				log.Printf("level=warn component=auth outcome=reject reason=invalid_token err=%v", err)
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			uid, _ := claims["sub"].(string)
			if strings.TrimSpace(uid) == "" {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}

			principal := domain.Principal{UID: uid, Role: roleFromClaims(claims)}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// roleFromClaims reads `role`, falling back to Clerk's metadata claims.
func roleFromClaims(claims jwt.MapClaims) string {
	if role, ok := claims["role"].(string); ok && role != "" {
		return role
	}
	for _, key := range []string{"metadata", "public_metadata"} {
		if meta, ok := claims[key].(map[string]interface{}); ok {
			if role, ok := meta["role"].(string); ok && role != "" {
				return role
			}
		}
	}
	return ""
}

// PrincipalFromContext retrieves the authenticated principal. Handlers call this once
// and pass the value on explicitly.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(domain.Principal)
	return principal, ok
}

// RequireRole rejects callers that hold none of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !principal.HasRole(roles...) {
				log.Printf("level=warn component=auth outcome=forbidden uid=%s role=%q path=%s", principal.UID, principal.Role, r.URL.Path)
				writeError(w, http.StatusForbidden, "You do not have permission to perform this action.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HMACKeyfunc validates HS256 tokens signed with a shared secret.
func HMACKeyfunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}

// JWKSKeyfunc validates RS* tokens against keys published at jwksURL. Keys are
// cached by kid and the set is refetched on a miss, at most once per minute.
func JWKSKeyfunc(jwksURL string) jwt.Keyfunc {
	cache := &jwksCache{
		url:    jwksURL,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   map[string]*rsa.PublicKey{},
	}
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in token header")
		}
		return cache.key(kid)
	}
}

type jwksCache struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < time.Minute {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	if err := c.refresh(); err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (c *jwksCache) refresh() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			log.Printf("level=warn component=auth msg=\"skipping malformed jwk\" kid=%s err=%v", k.Kid, err)
			continue
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

// parseRSAPublicKey parses an RSA public key from base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}
