/**
 * @description
 * Authentication, internal-key and rate-limit middleware for the incorporation API.
 */
package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/scg/incorporation-service/internal/app"
	"github.com/scg/incorporation-service/internal/domain"
)

type contextKey string

const identityContextKey = contextKey("identity")

// SessionCookieName is read when no Authorization header is present.
const SessionCookieName = "scg_session"

const (
	jwksCacheTTL = 10 * time.Minute
	// jwksMinRefreshInterval caps refetches triggered by unknown key ids.
	jwksMinRefreshInterval = 30 * time.Second
)

var errNoSessionToken = errors.New("session token required")

// AuthOptions configures session verification. JWKSURL enables RS256 tokens,
// Secret enables HS256 tokens for local deployments.
type AuthOptions struct {
	JWKSURL string
	Secret  string
	Issuer  string
}

// Authenticator resolves the caller identity from a session JWT.
type Authenticator struct {
	opts AuthOptions
	keys *jwksCache
}

// NewAuthenticator creates an Authenticator for the given options.
func NewAuthenticator(opts AuthOptions) *Authenticator {
	a := &Authenticator{opts: opts}
	if opts.JWKSURL != "" {
		a.keys = newJWKSCache(opts.JWKSURL, &http.Client{Timeout: 10 * time.Second})
	}
	return a
}

// Identify parses and verifies the session token carried by r.
func (a *Authenticator) Identify(r *http.Request) (domain.Identity, error) {
	tokenString, err := sessionToken(r)
	if err != nil {
		return domain.Identity{}, err
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(a.validMethods())}
	if a.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.opts.Issuer))
	}

	token, err := jwt.Parse(tokenString, a.keyFunc, parserOpts...)
	if err != nil {
		return domain.Identity{}, err
	}
	if !token.Valid {
		return domain.Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, errors.New("invalid token claims")
	}

	userID, _ := claims["sub"].(string)
	if strings.TrimSpace(userID) == "" {
		return domain.Identity{}, errors.New("user id not found in token")
	}
	email, _ := claims["email"].(string)

	return domain.Identity{UserID: userID, Email: strings.TrimSpace(email)}, nil
}

func (a *Authenticator) validMethods() []string {
	var methods []string
	if a.keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if a.opts.Secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	return methods
}

func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if a.keys == nil {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in token header")
		}
		key, err := a.keys.key(kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		return key, nil
	case *jwt.SigningMethodHMAC:
		if a.opts.Secret == "" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.opts.Secret), nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

func sessionToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
			return "", errors.New("invalid Authorization header format")
		}
		return strings.TrimSpace(tokenString), nil
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errNoSessionToken
}

// RequireSession rejects requests without a valid session and stores the
// caller identity in the request context.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the caller identity from the request context.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(domain.Identity)
	return identity, ok && identity.UserID != ""
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || provided != requiredKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is satisfied by app.RedisRateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (app.RateDecision, error)
}

// RateLimitMiddleware caps requests per caller in scope. Limiter errors fail open.
func RateLimitMiddleware(limiter RateLimiter, scope string, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		if logger == nil {
			logger = slog.Default()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), scope, identity.UserID, limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", "scope", scope, "user_id", identity.UserID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait and try again.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// jwksCache keeps the issuer's RSA keys for jwksCacheTTL and refetches on an
// unknown kid, at most once per minRefresh.
type jwksCache struct {
	url        string
	client     *http.Client
	minRefresh time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string, client *http.Client) *jwksCache {
	return &jwksCache{url: url, client: client, minRefresh: jwksMinRefreshInterval, keys: map[string]*rsa.PublicKey{}}
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.keys[kid]
	if ok && time.Since(c.fetchedAt) < jwksCacheTTL {
		return key, nil
	}
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.minRefresh {
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	if err := c.refresh(); err != nil {
		return nil, err
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
	if resp.StatusCode >= 400 {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
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
		if k.Kty != "" && k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return fmt.Errorf("key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

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
		return nil, errors.New("empty exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
