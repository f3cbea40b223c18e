package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"museu/internal/engine"
	"museu/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowDevLogin enables POST /auth/dev/login, which signs tokens for any principal.
	AllowDevLogin bool
	TokenTTL      time.Duration
	Logger        *log.Logger
}

type Principal struct {
	ID     string
	Name   string
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c AuthConfig) tokenTTL() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return 12 * time.Hour
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ID != "" {
		return p.ID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		ID:     claims.Subject,
		Name:   claims.Name,
		Source: "jwt",
	}, nil
}

// signDevToken issues an HS256 token for principalID.
func signDevToken(secret, principalID, name string, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.APIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.ActorID == "" {
		return Principal{}, errors.New("api key missing actor")
	}
	return Principal{
		ID:     apiKey.ActorID,
		Source: "api_key",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// queryToken lets browsers pass a token on the websocket upgrade, where
// custom headers are unavailable.
func queryToken(req *http.Request) string {
	return strings.TrimSpace(req.URL.Query().Get("access_token"))
}

// publicPaths are served without credentials, relative to the base path.
var publicPaths = []string{"health", "openapi.json", "auth/dev/login"}

var errBadCredentials = newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)

// credentials reads the bearer token or API key of req. The live feed also
// accepts ?access_token= because browsers cannot set headers on an upgrade.
func credentials(req *http.Request, livePath string) (authz, apiKey string) {
	authz = strings.TrimSpace(req.Header.Get("Authorization"))
	apiKey = strings.TrimSpace(req.Header.Get("X-Api-Key"))
	if authz == "" && apiKey == "" && req.URL.Path == livePath {
		if tok := queryToken(req); tok != "" {
			authz = "Bearer " + tok
		}
	}
	return authz, apiKey
}

func authenticate(req *http.Request, livePath string, cfg AuthConfig, r repo.Repo) (Principal, huma.StatusError) {
	authz, apiKey := credentials(req, livePath)
	switch {
	case authz != "":
		token, ok := bearerToken(authz)
		if !ok {
			return Principal{}, errBadCredentials
		}
		p, err := authenticateJWT(token, cfg.JWTSecret)
		if err != nil {
			return Principal{}, errBadCredentials
		}
		return p, nil
	case apiKey != "":
		p, err := authenticateAPIKey(req.Context(), r, apiKey)
		if err != nil {
			return Principal{}, errBadCredentials
		}
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	open := map[string]bool{}
	for _, p := range publicPaths {
		open[path.Join(basePath, p)] = true
	}
	livePath := path.Join(basePath, "live")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			principal, herr := authenticate(req, livePath, cfg, e.Repo)
			if herr != nil {
				respondStatusError(w, herr)
				return
			}
			if err := ensureProfile(req.Context(), e, principal); err != nil {
				cfg.logger().Printf("auth: provision %s failed: %v", principal.ID, err)
				respondStatusError(w, handleError(err))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

// ensureProfile provisions a profile the first time a principal is seen.
func ensureProfile(ctx context.Context, e engine.Engine, p Principal) error {
	_, err := e.Repo.GetProfile(ctx, nil, p.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	_, err = e.Provision(ctx, p.ID, p.Name)
	return err
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
