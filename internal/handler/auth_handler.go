package handler

import (
	"net/http"

	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/config"
	"marketplace/internal/model"
	"marketplace/internal/service"
	"marketplace/internal/token"
)

// AuthHandler exposes registration, login, refresh and password-reset
// endpoints for both roles.
type AuthHandler struct {
	auth   *service.AuthService
	cfg    *config.Config
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, cfg *config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cfg: cfg, logger: logger}
}

func accessCookieName(role model.Role) string {
	if role == model.RoleSeller {
		return CookieSellerAccess
	}
	return CookieUserAccess
}

func refreshCookieName(role model.Role) string {
	if role == model.RoleSeller {
		return CookieSellerRefresh
	}
	return CookieUserRefresh
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// setSession installs the pair for one role and clears the other role's
// cookies, so a browser never carries two live sessions at once.
func (h *AuthHandler) setSession(w http.ResponseWriter, role model.Role, pair *token.Pair) {
	h.setCookie(w, accessCookieName(role), pair.AccessToken, int(h.cfg.JWT.AccessTTL.Seconds()))
	h.setCookie(w, refreshCookieName(role), pair.RefreshToken, int(h.cfg.JWT.RefreshTTL.Seconds()))

	other := model.RoleUser
	if role == model.RoleUser {
		other = model.RoleSeller
	}
	h.setCookie(w, accessCookieName(other), "", -1)
	h.setCookie(w, refreshCookieName(other), "", -1)
}

func (h *AuthHandler) clearSession(w http.ResponseWriter, role model.Role) {
	h.setCookie(w, accessCookieName(role), "", -1)
	h.setCookie(w, refreshCookieName(role), "", -1)
}

// Register starts an OTP-gated registration for the given role.
func (h *AuthHandler) Register(role model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.RegistrationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := h.auth.RequestRegistrationOTP(r.Context(), &req, role); err != nil {
			respondError(w, err)
			return
		}
		respondSuccess(w, http.StatusOK, "OTP sent to email. Please verify your account.", nil)
	}
}

// Verify completes a registration with the mailed OTP.
func (h *AuthHandler) Verify(role model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.VerifyRegistrationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		account, err := h.auth.VerifyRegistration(r.Context(), &req, role)
		if err != nil {
			respondError(w, err)
			return
		}
		respondSuccess(w, http.StatusCreated, "Account created successfully.", account)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and installs the session cookies for the role.
func (h *AuthHandler) Login(role model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeBody(w, r, &req) {
			return
		}
		account, pair, err := h.auth.Login(r.Context(), req.Email, req.Password, role)
		if err != nil {
			respondError(w, err)
			return
		}
		h.setSession(w, role, pair)
		respondSuccess(w, http.StatusOK, "Logged in successfully.", map[string]interface{}{
			"account":      account,
			"access_token": pair.AccessToken,
		})
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken exchanges a refresh token for a new access token. The refresh
// token is taken from either role's cookie, falling back to the body; it is
// never rotated.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := ""
	for _, name := range []string{CookieUserRefresh, CookieSellerRefresh} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			refreshToken = c.Value
			break
		}
	}
	if refreshToken == "" {
		var req refreshRequest
		if r.Body != nil && r.ContentLength > 0 {
			if !decodeBody(w, r, &req) {
				return
			}
		}
		refreshToken = req.RefreshToken
	}

	access, claims, err := h.auth.Refresh(r.Context(), refreshToken)
	if err != nil {
		respondError(w, err)
		return
	}

	h.setCookie(w, accessCookieName(claims.Role), access, int(h.cfg.JWT.AccessTTL.Seconds()))
	respondSuccess(w, http.StatusOK, "Token refreshed.", map[string]string{
		"access_token": access,
	})
}

// Logout clears the authenticated role's cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth, ok := AuthFromContext(r.Context())
	if !ok {
		respondError(w, apperror.Auth("Unauthorized."))
		return
	}
	h.clearSession(w, auth.Role)
	respondSuccess(w, http.StatusOK, "Logged out.", nil)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	auth, ok := AuthFromContext(r.Context())
	if !ok {
		respondError(w, apperror.Auth("Unauthorized."))
		return
	}
	account, err := h.auth.GetAccount(r.Context(), auth.AccountID, auth.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "", map[string]interface{}{
		"account": account,
		"role":    auth.Role,
	})
}

type forgotPasswordRequest struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email, req.Role); err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "OTP sent to email. Please verify to reset your password.", nil)
}

type verifyForgotPasswordRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (h *AuthHandler) VerifyForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyForgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.auth.VerifyForgotPasswordOTP(r.Context(), req.Email, req.OTP); err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "OTP verified. You may now reset your password.", nil)
}

type resetPasswordRequest struct {
	Email       string     `json:"email"`
	NewPassword string     `json:"new_password"`
	Role        model.Role `json:"role"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Email, req.NewPassword, req.Role); err != nil {
		respondError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Password reset successfully.", nil)
}
