/**
 * @description
 * This file contains custom middleware for the HTTP router. The auth
 * middleware validates RS256 JWTs against the identity provider's JWKS
 * endpoint and places the caller's account address (the token subject) on
 * the request context for handlers to consume.
 *
 * @dependencies
 * - context, crypto/rsa, encoding/base64, encoding/json, math/big, net/http:
 *   Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccountContextKey is a custom type for the context key to avoid collisions.
type AccountContextKey string

const callerAccountKey AccountContextKey = "callerAccount"

// AuthMiddleware creates a middleware that validates JWT tokens against the
// configured JWKS endpoint. The token subject is the caller's account address.
func AuthMiddleware(jwksURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			// Parse and validate the JWT token
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				// Verify the signing method
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}

				// Get the key ID from the token header
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}

				// Fetch the public key from JWKS
				publicKey, err := getPublicKeyFromJWKS(jwksURL, kid)
				if err != nil {
					return nil, fmt.Errorf("failed to get public key: %w", err)
				}

				return publicKey, nil
			})

			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			// Optional audience / issuer enforcement via env
			if expectedAud := os.Getenv("JWT_AUDIENCE"); expectedAud != "" {
				if aud, ok := claims["aud"].(string); !ok || aud != expectedAud {
					http.Error(w, "Invalid audience", http.StatusUnauthorized)
					return
				}
			}
			if expectedIss := os.Getenv("JWT_ISSUER"); expectedIss != "" {
				if iss, ok := claims["iss"].(string); !ok || iss != expectedIss {
					http.Error(w, "Invalid issuer", http.StatusUnauthorized)
					return
				}
			}

			// The 'sub' claim carries the caller's account address
			account, ok := claims["sub"].(string)
			if !ok || strings.TrimSpace(account) == "" {
				http.Error(w, "Account address not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerAccountKey, strings.TrimSpace(account))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// jwksCacheTTL bounds how long a resolved key is reused before the JWKS
// endpoint is consulted again, which is what lets rotated keys propagate.
const jwksCacheTTL = 5 * time.Minute

var (
	jwksCacheMu sync.RWMutex
	jwksCache   = make(map[string]jwksCacheEntry)
)

type jwksCacheEntry struct {
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// getPublicKeyFromJWKS resolves the public key for a key ID, fetching the
// JWKS document only on cache misses.
func getPublicKeyFromJWKS(jwksURL, kid string) (interface{}, error) {
	cacheKey := jwksURL + "|" + kid
	jwksCacheMu.RLock()
	entry, ok := jwksCache[cacheKey]
	jwksCacheMu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < jwksCacheTTL {
		return entry.key, nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(jwksURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	// Find the key with matching kid
	for _, key := range jwks.Keys {
		if key.Kid == kid {
			pub, err := parseRSAPublicKey(key.N, key.E)
			if err != nil {
				return nil, err
			}
			jwksCacheMu.Lock()
			jwksCache[cacheKey] = jwksCacheEntry{key: pub, fetchedAt: time.Now()}
			jwksCacheMu.Unlock()
			return pub, nil
		}
	}

	return nil, fmt.Errorf("key with kid %s not found", kid)
}

// parseRSAPublicKey parses RSA public key from modulus and exponent
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
	if len(eb) == 3 {
		// Common case for 65537
		exp = uint64(eb[0])<<16 | uint64(eb[1])<<8 | uint64(eb[2])
	} else {
		for _, b := range eb {
			exp = (exp << 8) | uint64(b)
		}
	}

	nInt := new(big.Int).SetBytes(nb)
	pub := &rsa.PublicKey{
		N: nInt,
		E: int(exp),
	}
	return pub, nil
}

// GetCallerAccount retrieves the authenticated account address from the
// request context. Handlers should use this to identify the caller.
func GetCallerAccount(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(callerAccountKey).(string)
	return account, ok
}
