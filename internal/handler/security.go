package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

var errUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HandleAPIKey resolves a raw API key to the principal it acts for. The
// stored hash is compared in constant time against the computed one.
func (s *SecurityHandler) HandleAPIKey(ctx context.Context, key string) (auth.Principal, error) {
	if key == "" {
		return auth.Principal{}, errUnauthorized
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			zctx.From(ctx).Warn("API key lookup failed", zap.Error(err))
		}
		return auth.Principal{}, errUnauthorized
	}

	computed, err := hex.DecodeString(hexHash)
	if err != nil {
		return auth.Principal{}, errUnauthorized
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Principal{}, errUnauthorized
	}
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Principal{}, errUnauthorized
	}
	if info.UserID == "" {
		return auth.Principal{}, errUnauthorized
	}

	return auth.Principal{KeyID: info.ID, UserID: info.UserID, Scopes: info.Scopes}, nil
}

// Authenticate is middleware that requires a valid key in the api_key
// header or an Authorization bearer token.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.HandleAPIKey(r.Context(), requestKey(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
			writeError(w, r, http.StatusUnauthorized, kindUnauthorized, "missing or invalid API key", nil)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("user_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects principals lacking scope with 403.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok || !p.HasScope(scope) {
				writeError(w, r, http.StatusForbidden, kindForbidden, "API key lacks the "+scope+" scope", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if k := r.Header.Get("api_key"); k != "" {
		return k
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
