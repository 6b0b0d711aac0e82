package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saihealth/go-care/internal/api/session"
	"github.com/saihealth/go-care/internal/domain/record"
	"github.com/saihealth/go-care/internal/domain/workflow"
	"github.com/saihealth/go-care/internal/observability/metrics"
	"github.com/saihealth/go-care/internal/store"
)

// AuthHandler handles registration, login, and logout.
type AuthHandler struct {
	svc      *workflow.Service
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(svc *workflow.Service, sessions *session.Manager, m *metrics.Metrics, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, sessions: sessions, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/register/confirm", h.ConfirmRegister)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	return r
}

// RegisterRequest is the request body for starting a registration.
type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	Specialty string `json:"specialty,omitempty"`
}

// Register handles POST /auth/register. On success a verification code is
// dispatched and the registration is parked in the session pending the
// confirm step.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pending, err := h.svc.StartRegistration(r.Context(), req.Name, req.Email, req.Phone, req.Password, record.Role(req.Role), req.Specialty)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, workflow.ErrInvalidCode):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			h.metrics.OTPSendFailures.Inc()
			h.logger.Error("registration start failed", zap.Error(err))
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	h.metrics.OTPSendsTotal.Inc()

	if err := h.sessions.SetPendingRegistration(w, r, pending); err != nil {
		h.logger.Error("save pending registration failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "verification_sent",
		"message": "a verification code has been sent to your phone",
	})
}

// ConfirmRequest carries the verification code for a confirm step.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmRegister handles POST /auth/register/confirm. A wrong code keeps
// the pending registration in the session for another attempt.
func (h *AuthHandler) ConfirmRegister(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var pending workflow.PendingRegistration
	ok, err := h.sessions.PendingRegistration(r, &pending)
	if err != nil || !ok {
		jsonError(w, "no registration in progress, start over at /auth/register", http.StatusConflict)
		return
	}

	u, err := h.svc.ConfirmRegistration(r.Context(), &pending, req.Code)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidCode) {
			h.metrics.OTPCheckFailures.Inc()
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("registration confirm failed", zap.Error(err))
		jsonError(w, "failed to complete registration", http.StatusInternalServerError)
		return
	}
	h.metrics.RegistrationsTotal.Inc()

	if err := h.sessions.SignIn(w, r, u); err != nil {
		h.logger.Error("session sign-in failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// LoginRequest is the request body for a login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidCredentials) {
			jsonError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.sessions.SignIn(w, r, u); err != nil {
		h.logger.Error("session sign-in failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(w, r); err != nil {
		h.logger.Error("session sign-out failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
