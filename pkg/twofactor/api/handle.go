package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tutorlane/tutor-idm/pkg/account"
	idmerr "github.com/tutorlane/tutor-idm/pkg/errors"
	"github.com/tutorlane/tutor-idm/pkg/twofactor"
)

type Handle struct {
	svc *twofactor.Service
}

func NewHandle(svc *twofactor.Service) Handle {
	return Handle{svc: svc}
}

// Routes mounts the 2FA endpoints. Setup and disable require an
// authenticated caller; challenge and verify are part of the login flow and
// are keyed by email.
func (h Handle) Routes(r chi.Router, jwtAuth *jwtauth.JWTAuth) {
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(jwtAuth))
		r.Use(jwtauth.Authenticator(jwtAuth))

		r.Post("/setup", h.PostSetup)
		r.Post("/setup/confirm", h.PostSetupConfirm)
		r.Post("/disable", h.PostDisable)
	})

	r.Post("/challenge", h.PostChallenge)
	r.Post("/verify", h.PostVerify)
}

type (
	SetupRequest struct {
		Method string `json:"method"`
	}

	SetupConfirmRequest struct {
		Method string `json:"method"`
		Code   string `json:"code"`
	}

	SetupConfirmResponse struct {
		BackupCodes []string `json:"backup_codes"`
	}

	ChallengeRequest struct {
		Email string `json:"email"`
	}

	VerifyRequest struct {
		Email        string `json:"email"`
		Code         string `json:"code"`
		IsBackupCode bool   `json:"is_backup_code"`
	}

	VerifyResponse struct {
		PendingSessionToken string `json:"pending_session_token"`
	}

	DisableRequest struct {
		CurrentPassword string `json:"current_password"`
	}

	SuccessResponse struct {
		Result string `json:"result"`
	}

	ErrorResponse struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	}
)

// Start 2FA enrollment for a method
// (POST /2fa/setup)
func (h Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}

	data := &SetupRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeInvalidInput, "unable to parse body"))
		return
	}

	challenge, err := h.svc.BeginSetup(r.Context(), accountID, account.Method(data.Method))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, challenge)
}

// Confirm enrollment with a code from the factor; returns backup codes once
// (POST /2fa/setup/confirm)
func (h Handle) PostSetupConfirm(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}

	data := &SetupConfirmRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeInvalidInput, "unable to parse body"))
		return
	}

	backupCodes, err := h.svc.ConfirmSetup(r.Context(), accountID, account.Method(data.Method), data.Code)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SetupConfirmResponse{BackupCodes: backupCodes})
}

// Issue a login challenge for the account's enabled method
// (POST /2fa/challenge)
func (h Handle) PostChallenge(w http.ResponseWriter, r *http.Request) {
	data := &ChallengeRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeInvalidInput, "unable to parse body"))
		return
	}

	if data.Email == "" {
		renderError(w, r, idmerr.New(idmerr.ErrCodeMissingRequired, "email is required").
			WithDetail("field", "email"))
		return
	}

	challenge, err := h.svc.IssueLoginChallenge(r.Context(), data.Email)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, challenge)
}

// Verify a login challenge code or backup code
// (POST /2fa/verify)
func (h Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	data := &VerifyRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeInvalidInput, "unable to parse body"))
		return
	}

	if data.Email == "" {
		renderError(w, r, idmerr.New(idmerr.ErrCodeMissingRequired, "email is required").
			WithDetail("field", "email"))
		return
	}

	pendingToken, err := h.svc.VerifyLoginChallenge(r.Context(), data.Email, data.Code, data.IsBackupCode)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyResponse{PendingSessionToken: pendingToken})
}

// Disable 2FA; requires the current password
// (POST /2fa/disable)
func (h Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}

	data := &DisableRequest{}
	if err := render.DecodeJSON(r.Body, data); err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeInvalidInput, "unable to parse body"))
		return
	}

	if err := h.svc.Disable(r.Context(), accountID, data.CurrentPassword); err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SuccessResponse{Result: "success"})
}

// callerAccountID extracts the authenticated account id from the verified
// token claims. Routes using it sit behind the jwtauth verifier, so a
// missing or malformed subject is an authentication failure, not a 500.
func (h Handle) callerAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeUnauthorized, "missing or invalid access token"))
		return uuid.Nil, false
	}

	subject, _ := claims["sub"].(string)
	accountID, err := uuid.Parse(subject)
	if err != nil {
		renderError(w, r, idmerr.New(idmerr.ErrCodeUnauthorized, "missing or invalid access token"))
		return uuid.Nil, false
	}

	return accountID, true
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	var e *idmerr.Error
	if !errors.As(err, &e) {
		e = idmerr.Wrap(err, idmerr.ErrCodeInternal, "internal error")
	}

	render.Status(r, e.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{
		Code:    string(e.Code),
		Message: e.Message,
		Details: e.Details,
	})
}
