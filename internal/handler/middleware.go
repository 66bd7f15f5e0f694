package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/model"
	"marketplace/internal/service"
	"marketplace/internal/token"
	"marketplace/internal/util"
)

// Cookie names per role. User and seller sessions are independent; both may
// be present in one browser.
const (
	CookieUserAccess    = "access_token"
	CookieUserRefresh   = "refresh_token"
	CookieSellerAccess  = "seller_access_token"
	CookieSellerRefresh = "seller_refresh_token"
)

// AuthContext is the immutable identity attached to an authenticated request.
type AuthContext struct {
	AccountID string
	Role      model.Role
	Email     string
	Name      string
}

type contextKey struct{}

var authContextKey contextKey

// AuthFromContext returns the identity set by Authenticate, if any.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey).(*AuthContext)
	return auth, ok
}

// AuthMiddleware verifies access tokens and loads the account they name.
type AuthMiddleware struct {
	tokens *token.Manager
	auth   *service.AuthService
}

func NewAuthMiddleware(tokens *token.Manager, auth *service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, auth: auth}
}

// extractToken looks for an access token in the role cookies first, then the
// bearer header.
func extractToken(r *http.Request) string {
	for _, name := range []string{CookieUserAccess, CookieSellerAccess} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// Authenticate rejects requests without a valid access token. The account is
// re-loaded so revoked accounts fail even with an unexpired token.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			respondError(w, apperror.Auth("Unauthorized. No access token."))
			return
		}

		claims, err := m.tokens.VerifyAccess(tokenString)
		if err != nil {
			respondError(w, apperror.Auth("Token expired or invalid."))
			return
		}

		account, err := m.auth.GetAccount(r.Context(), claims.AccountID, claims.Role)
		if err != nil {
			respondError(w, apperror.Auth("Account no longer exists."))
			return
		}

		auth := &AuthContext{
			AccountID: account.ID,
			Role:      claims.Role,
			Email:     account.Email,
			Name:      account.Name,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey, auth)))
	})
}

// RequireRole guards routes open to a single role.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := AuthFromContext(r.Context())
			if !ok || auth.Role != role {
				respondError(w, apperror.Auth("Forbidden for this role."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware logs one structured line per request.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("Request handled",
				util.String("method", r.Method),
				util.String("path", r.URL.Path),
				util.String("remote", r.RemoteAddr),
				util.Duration("duration", time.Since(start)),
			)
		})
	}
}
