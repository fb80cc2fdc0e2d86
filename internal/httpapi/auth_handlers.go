package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"craftctrl.dev/internal/auth"
	"craftctrl.dev/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type twoFactorVerifyRequest struct {
	SessionToken string `json:"sessionToken"`
	Code         string `json:"code"`
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.Login(r.Context(), req.Username, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			obs.ObserveLogin("denied")
		} else {
			obs.ObserveLogin("error")
		}
		handleAuthError(w, r, err)
		return
	}

	switch {
	case res.Requires2FA:
		obs.ObserveLogin("challenge")
		writeJSON(w, http.StatusOK, map[string]any{
			"requires2FA":  true,
			"sessionToken": res.SessionToken,
		})
	case res.RequiresPasswordChange:
		obs.ObserveLogin("challenge")
		writeJSON(w, http.StatusOK, map[string]any{
			"requiresPasswordChange": true,
			"sessionToken":           res.SessionToken,
		})
	default:
		obs.ObserveLogin("success")
		a.audit(r.Context(), "auth.login", "user", res.Auth.User.ID, map[string]string{
			"username": res.Auth.User.Username,
		})
		writeJSON(w, http.StatusOK, res.Auth)
	}
}

func (a *API) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req twoFactorVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.VerifyTwoFactor(r.Context(), req.SessionToken, req.Code, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			obs.ObserveTwoFactor("denied")
		} else {
			obs.ObserveTwoFactor("error")
		}
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveTwoFactor("success")
	a.audit(r.Context(), "auth.login.2fa", "user", res.User.ID, map[string]string{
		"username": res.User.Username,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	setup, err := a.svc.SetupTwoFactor(r.Context(), id.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (a *API) handleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req twoFactorCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.EnableTwoFactor(r.Context(), id.UserID, req.Code); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.2fa.enable", "user", id.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req twoFactorCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.DisableTwoFactor(r.Context(), id.UserID, req.Code); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.2fa.disable", "user", id.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			obs.ObserveRefresh("denied")
		} else {
			obs.ObserveRefresh("error")
		}
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveRefresh("success")
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := a.svc.Logout(r.Context(), id.SessionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout", "session", id.SessionID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	// The caller's current session survives.
	if err := a.svc.LogoutAll(r.Context(), id.UserID, id.SessionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout_all", "user", id.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := a.svc.GetUser(r.Context(), id.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	eff, err := a.svc.Resolver().EffectivePermissions(r.Context(), id.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": eff,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword, id.SessionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.password.change", "user", id.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.RequestPasswordReset(r.Context(), req.Username); err != nil {
		handleAuthError(w, r, err)
		return
	}
	// Identical response for known and unknown usernames.
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ok"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.password.reset", "user", "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessions, err := a.svc.UserSessions(r.Context(), id.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []auth.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"current":  id.SessionID,
	})
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/auth/sessions/"), "/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	// The current session is ended via logout, not revocation.
	if sessionID == id.SessionID {
		writeError(w, r, http.StatusBadRequest, "cannot revoke the current session")
		return
	}
	revoked, err := a.svc.RevokeSession(r.Context(), sessionID, id.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if !revoked {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}
	a.audit(r.Context(), "auth.session.revoke", "session", sessionID, nil)
	w.WriteHeader(http.StatusNoContent)
}
