package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	auth "github.com/scottux/recipe-book-sub002"
)

// Handler exposes the engine over HTTP. Construct with NewHandler and mount
// Router on a server.
type Handler struct {
	engine *auth.Engine
}

func NewHandler(engine *auth.Engine) *Handler {
	return &Handler{engine: engine}
}

// Router builds the route table. Authenticated routes verify the bearer
// token before the handler runs.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/login/2fa", h.loginTwoFactor).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)

	r.HandleFunc("/auth/password/reset/request", h.resetRequest).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/reset/validate", h.resetValidate).Methods(http.MethodGet)
	r.HandleFunc("/auth/password/reset/confirm", h.resetConfirm).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email/confirm", h.verifyEmail).Methods(http.MethodPost)

	r.HandleFunc("/auth/profile", requireAuth(h.engine, h.profile)).Methods(http.MethodGet)
	r.HandleFunc("/auth/profile", requireAuth(h.engine, h.updateProfile)).Methods(http.MethodPatch)
	r.HandleFunc("/auth/password/change", requireAuth(h.engine, h.changePassword)).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email/send", requireAuth(h.engine, h.sendVerification)).Methods(http.MethodPost)
	r.HandleFunc("/auth/account", requireAuth(h.engine, h.deleteAccount)).Methods(http.MethodDelete)

	r.HandleFunc("/auth/2fa/setup", requireAuth(h.engine, h.twoFactorSetup)).Methods(http.MethodPost)
	r.HandleFunc("/auth/2fa/enable", requireAuth(h.engine, h.twoFactorEnable)).Methods(http.MethodPost)
	r.HandleFunc("/auth/2fa/disable", requireAuth(h.engine, h.twoFactorDisable)).Methods(http.MethodPost)
	r.HandleFunc("/auth/2fa/status", requireAuth(h.engine, h.twoFactorStatus)).Methods(http.MethodGet)
	r.HandleFunc("/auth/2fa/backup-codes", requireAuth(h.engine, h.regenerateBackupCodes)).Methods(http.MethodPost)

	return recoverPanics(withClientIP(r))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.Register(r.Context(), auth.RegisterRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]interface{}{
		"userId": res.UserID,
		"email":  res.Email,
		"tokens": res.Tokens,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email         string `json:"email"`
		Password      string `json:"password"`
		TwoFactorCode string `json:"twoFactorCode"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), auth.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.TwoFactorRequired {
		// Credentials were correct; the client finishes on /auth/login/2fa
		// with the challenge token and a code.
		writeData(w, http.StatusOK, map[string]interface{}{
			"twoFactorRequired": true,
			"challengeToken":    res.ChallengeToken,
		})
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"tokens": res.Tokens, "userId": res.UserID})
}

func (h *Handler) loginTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeToken string `json:"challengeToken"`
		Code           string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.LoginTwoFactor(r.Context(), req.ChallengeToken, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"tokens": res.Tokens, "userId": res.UserID})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"tokens": pair})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"loggedOut": true})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Profile(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.engine.UpdateProfile(r.Context(), auth.UserID(r.Context()), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.ChangePassword(r.Context(), auth.UserID(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"changed": true})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.DeleteAccount(r.Context(), auth.UserID(r.Context()), req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (h *Handler) resetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	// Identical body whether or not the account exists.
	writeData(w, http.StatusOK, map[string]interface{}{
		"message": "If an account exists for that email, a reset link has been sent",
	})
}

func (h *Handler) resetValidate(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.ValidateResetToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch status.State {
	case auth.ResetTokenValid:
		writeData(w, http.StatusOK, map[string]interface{}{"valid": true, "email": status.Email})
	case auth.ResetTokenUsed:
		writeError(w, auth.ErrResetTokenUsed)
	case auth.ResetTokenExpired:
		writeError(w, auth.ErrResetTokenExpired)
	default:
		writeError(w, auth.ErrResetTokenInvalid)
	}
}

func (h *Handler) resetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"reset": true})
}

func (h *Handler) sendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SendVerificationEmail(r.Context(), auth.UserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"sent": true})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"verified":        true,
		"alreadyVerified": res.AlreadyVerified,
	})
}

func (h *Handler) twoFactorSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := h.engine.TwoFactorSetup(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, setup)
}

func (h *Handler) twoFactorEnable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	codes, err := h.engine.TwoFactorEnable(r.Context(), auth.UserID(r.Context()), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	// The plaintext backup codes appear in this response and nowhere else.
	writeData(w, http.StatusOK, map[string]interface{}{"enabled": true, "backupCodes": codes})
}

func (h *Handler) twoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.TwoFactorDisable(r.Context(), auth.UserID(r.Context()), req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"disabled": true})
}

func (h *Handler) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.TwoFactorState(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (h *Handler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	codes, err := h.engine.RegenerateBackupCodes(r.Context(), auth.UserID(r.Context()), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"backupCodes": codes})
}
