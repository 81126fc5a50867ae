package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stayforge/identity-service/internal/http/middleware"
	"github.com/stayforge/identity-service/internal/http/response"
	"github.com/stayforge/identity-service/internal/observability"
	"github.com/stayforge/identity-service/internal/security"
	"github.com/stayforge/identity-service/internal/service"
)

type AuthHandler struct {
	auth service.Authenticator
}

func NewAuthHandler(auth service.Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Role             string    `json:"role"`
	Groups           []string  `json:"groups,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return
	}
	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return
	}
	res, err := h.auth.LoginLocal(r.Context(), service.Credentials{
		Login:     req.Login,
		Secret:    req.Password,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login.local", "user_id", res.User.ID, "role", res.Role)
	h.writeLoginResult(w, r, res)
}

func (h *AuthHandler) DirectoryLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return
	}
	res, err := h.auth.LoginDirectory(r.Context(), service.Credentials{
		Login:     req.Login,
		Secret:    req.Password,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login.directory", "user_id", res.User.ID, "role", res.Role)
	h.writeLoginResult(w, r, res)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := presentedRefreshToken(r)
	res, err := h.auth.Refresh(r.Context(), presented, r.UserAgent(), clientIP(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	setAuthCookies(w, res.AccessToken, res.AccessExpiresAt, res.RefreshSecret, res.RefreshExpiresAt)
	response.JSON(w, r, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshSecret,
		RefreshExpiresAt: res.RefreshExpiresAt,
		Role:             res.User.Role.Name,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), userID, presentedRefreshToken(r), clientIP(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	clearAuthCookies(w)
	observability.Audit(r, "auth.logout", "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	revoked, err := h.auth.LogoutAll(r.Context(), userID, clientIP(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	clearAuthCookies(w)
	observability.Audit(r, "auth.logout_all", "user_id", userID, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "logged_out", "revoked": revoked})
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	views, err := h.auth.Sessions(userID, security.GetCookie(r, "refresh_token"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, r *http.Request, res *service.LoginResult) {
	setAuthCookies(w, res.AccessToken, res.AccessExpiresAt, res.RefreshSecret, res.RefreshExpiresAt)
	response.JSON(w, r, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshSecret,
		RefreshExpiresAt: res.RefreshExpiresAt,
		Role:             res.Role,
		Groups:           res.Groups,
	})
}

// presentedRefreshToken prefers the cookie; API clients may send the secret in
// the body instead.
func presentedRefreshToken(r *http.Request) string {
	if v := security.GetCookie(r, "refresh_token"); v != "" {
		return v
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.RefreshToken
}

func setAuthCookies(w http.ResponseWriter, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    access,
		Path:     "/",
		Expires:  accessExp,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	// Scoped to /api/v1 rather than /api/v1/auth so the session listing can
	// mark the caller's own session.
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    refresh,
		Path:     "/api/v1",
		Expires:  refreshExp,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "", Path: "/api/v1", MaxAge: -1, HttpOnly: true})
}

// writeAuthError maps service errors onto the response envelope. Credential
// failures of every flavor share one body; reuse incidents are not
// distinguishable from the outside.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "missing or empty credential fields", nil)
	case errors.Is(err, service.ErrAlreadyRegistered):
		response.Error(w, r, http.StatusConflict, "CONFLICT", "email or username already registered", nil)
	case errors.Is(err, service.ErrTooManyAttempts):
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed attempts", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
	case errors.Is(err, service.ErrInvalidRefreshToken), errors.Is(err, service.ErrReuseDetected):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
	case errors.Is(err, service.ErrForbidden):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "operation not permitted", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
