package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/parivartan/core-service/internal/domain"
)

type contextKey string

const principalContextKey contextKey = "principal"

var errTokenInvalid = errors.New("token validation failed")

// AuthConfig controls how bearer tokens issued by the auth provider are verified.
// HS256 tokens are checked against JWTSecret; RS256 tokens against the JWKS endpoint.
type AuthConfig struct {
	JWTSecret        string
	JWKSURL          string
	ExpectedAudience string
	ExpectedIssuer   string
}

// TokenVerifier resolves a bearer token to a principal.
type TokenVerifier struct {
	secret           []byte
	jwks             *jwksVerifier
	expectedAudience string
	expectedIssuer   string
}

func NewTokenVerifier(cfg AuthConfig) *TokenVerifier {
	v := &TokenVerifier{
		expectedAudience: strings.TrimSpace(cfg.ExpectedAudience),
		expectedIssuer:   strings.TrimSpace(cfg.ExpectedIssuer),
	}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		v.secret = []byte(secret)
	}
	if jwksURL := strings.TrimSpace(cfg.JWKSURL); jwksURL != "" {
		v.jwks = newJWKSVerifier(jwksURL)
	}
	if v.secret == nil && v.jwks == nil {
		log.Println("level=warn component=auth msg=\"no token verification key configured; every bearer token will be rejected\"")
	}
	return v
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}
			principal, err := verifier.principalFromHeader(r.Context(), authHeader)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// OptionalAuth lets anonymous requests through but still rejects an invalid token.
func OptionalAuth(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := verifier.principalFromHeader(r.Context(), authHeader)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, principal *domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// GetPrincipal returns the authenticated principal from request context.
func GetPrincipal(ctx context.Context) (*domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*domain.Principal)
	return principal, ok && principal != nil
}

func bearerToken(authHeader string) (string, bool) {
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[7:])
	if token == "" {
		return "", false
	}
	return token, true
}

func (v *TokenVerifier) principalFromHeader(ctx context.Context, authHeader string) (*domain.Principal, error) {
	tokenString, ok := bearerToken(authHeader)
	if !ok {
		return nil, errTokenInvalid
	}
	return v.Verify(ctx, tokenString)
}

// Verify validates the token signature and claims and returns its principal.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*domain.Principal, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "RS256"}), jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	claims := jwt.MapClaims{}

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		switch token.Method.Alg() {
		case "HS256":
			if v.secret == nil {
				return nil, errors.New("hs256 verification not configured")
			}
			return v.secret, nil
		case "RS256":
			if v.jwks == nil {
				return nil, errors.New("rs256 verification not configured")
			}
			kid, ok := token.Header["kid"].(string)
			if !ok || strings.TrimSpace(kid) == "" {
				return nil, errors.New("missing kid in token")
			}
			return v.jwks.getPublicKey(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
	})
	if err != nil || !token.Valid {
		return nil, errTokenInvalid
	}

	if v.expectedIssuer != "" {
		issuer, ok := claims["iss"].(string)
		if !ok || issuer != v.expectedIssuer {
			return nil, errors.New("issuer mismatch")
		}
	}
	if v.expectedAudience != "" && !verifyAudienceClaim(claims["aud"], v.expectedAudience) {
		return nil, errors.New("audience mismatch")
	}

	sub, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return nil, errors.New("subject claim missing")
	}

	principal := &domain.Principal{ID: strings.TrimSpace(sub)}
	if email, ok := claims["email"].(string); ok {
		principal.Email = strings.ToLower(strings.TrimSpace(email))
	}
	if metadata, ok := claims["user_metadata"].(map[string]any); ok {
		if name, ok := metadata["full_name"].(string); ok {
			principal.Name = strings.TrimSpace(name)
		}
	}
	return principal, nil
}

func verifyAudienceClaim(audClaim any, expected string) bool {
	switch aud := audClaim.(type) {
	case string:
		return aud == expected
	case []any:
		for _, item := range aud {
			s, ok := item.(string)
			if ok && s == expected {
				return true
			}
		}
	case []string:
		for _, item := range aud {
			if item == expected {
				return true
			}
		}
	}
	return false
}

type jwksVerifier struct {
	jwksURL    string
	httpClient *http.Client
	cacheTTL   time.Duration

	mu       sync.RWMutex
	expires  time.Time
	keyByKID map[string]*rsa.PublicKey
}

func newJWKSVerifier(jwksURL string) *jwksVerifier {
	return &jwksVerifier{
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
		keyByKID:   map[string]*rsa.PublicKey{},
	}
}

func (v *jwksVerifier) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := v.getCachedKey(kid); key != nil {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if key := v.getCachedKey(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("key not found for kid %s", kid)
}

func (v *jwksVerifier) getCachedKey(kid string) *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if time.Now().After(v.expires) {
		return nil
	}
	return v.keyByKID[kid]
}

func (v *jwksVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := map[string]*rsa.PublicKey{}
	for _, key := range payload.Keys {
		if key.Kid == "" || key.Kty != "RSA" || key.N == "" || key.E == "" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("no usable RSA keys in JWKS")
	}

	v.mu.Lock()
	v.keyByKID = keys
	v.expires = time.Now().Add(v.cacheTTL)
	v.mu.Unlock()
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
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}
