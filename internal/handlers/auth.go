package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// LoginServiceInterface defines the login flow used by AuthHandler
type LoginServiceInterface interface {
	InitiateLogin(ctx context.Context, id services.LoginIdentity) *models.LoginResult
	CompleteLogin(ctx context.Context, id services.LoginIdentity, code string) *models.LoginResult
	LoginWithPassword(ctx context.Context, identifier, password string) *models.LoginResult
	CompleteRegistration(ctx context.Context, req services.RegistrationRequest) *models.LoginResult
	SetPassword(ctx context.Context, userID, currentPassword, newPassword string) error
	Me(ctx context.Context, userID string) (*models.UserSummary, error)
}

// AccessRequestServiceInterface files access requests
type AccessRequestServiceInterface interface {
	CreateAccessRequest(ctx context.Context, email, phone, notes string) (*services.AccessRequestResult, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  LoginServiceInterface
	access   AccessRequestServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, access AccessRequestServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		access:   access,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// InitiateLoginRequest starts a login for an email or phone
type InitiateLoginRequest struct {
	Email      string `json:"email,omitempty" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone      string `json:"phone,omitempty" validate:"required_without=Email,omitempty,min=7,max=32"`
	InviteCode string `json:"invite_code,omitempty" validate:"omitempty,alphanum,max=32"`
}

// CompleteLoginRequest exchanges a one-time code for a token
type CompleteLoginRequest struct {
	Email      string `json:"email,omitempty" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone      string `json:"phone,omitempty" validate:"required_without=Email,omitempty,min=7,max=32"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
	InviteCode string `json:"invite_code,omitempty" validate:"omitempty,alphanum,max=32"`
}

// PasswordLoginRequest authenticates with a password
type PasswordLoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=72"`
}

// RegisterRequest finishes sign-up after a code was delivered
type RegisterRequest struct {
	Email      string `json:"email,omitempty" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone      string `json:"phone,omitempty" validate:"required_without=Email,omitempty,min=7,max=32"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
	InviteCode string `json:"invite_code,omitempty" validate:"omitempty,alphanum,max=32"`
	Name       string `json:"name" validate:"required,min=1,max=100"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
}

// AccessRequest asks an administrator for access
type AccessRequest struct {
	Email string `json:"email,omitempty" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone string `json:"phone,omitempty" validate:"required_without=Email,omitempty,min=7,max=32"`
	Notes string `json:"notes,omitempty" validate:"max=500"`
}

// SetPasswordRequest sets or changes the caller's password
type SetPasswordRequest struct {
	CurrentPassword string `json:"current_password,omitempty" validate:"max=72"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// StatusHTTPCode maps a login status to the HTTP status it is served with
func StatusHTTPCode(status models.LoginStatus) int {
	switch status {
	case models.StatusAuthenticated, models.StatusHasPassword, models.StatusNeedsCode, models.StatusNeedsRegistration:
		return http.StatusOK
	case models.StatusUnauthorizedPending:
		return http.StatusAccepted
	case models.StatusUnauthorizedRejected, models.StatusInactive:
		return http.StatusForbidden
	case models.StatusLocked:
		return http.StatusLocked
	case models.StatusWrongPassword, models.StatusNotFound, models.StatusNoPasswordSet, models.StatusInvalidCode:
		return http.StatusUnauthorized
	case models.StatusInvalidInput:
		return http.StatusBadRequest
	case models.StatusDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *AuthHandler) writeResult(w http.ResponseWriter, r *http.Request, res *models.LoginResult) {
	if res.Status != models.StatusAuthenticated && res.Status != models.StatusNeedsCode {
		h.logger.Info("login step finished",
			slog.String("status", string(res.Status)),
			slog.String("ip_address", pkghttp.ClientIP(r, h.ipConfig)))
	}
	pkghttp.WriteJSON(w, StatusHTTPCode(res.Status), res)
}

func invalidInput(w http.ResponseWriter, err error) {
	pkghttp.WriteJSON(w, http.StatusBadRequest, &models.LoginResult{
		Status:  models.StatusInvalidInput,
		Message: err.Error(),
	})
}

// InitiateLogin handles POST /auth/login/initiate
func (h *AuthHandler) InitiateLogin(w http.ResponseWriter, r *http.Request) {
	var req InitiateLoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		invalidInput(w, err)
		return
	}

	res := h.service.InitiateLogin(r.Context(), services.LoginIdentity{
		Email:      req.Email,
		Phone:      req.Phone,
		InviteCode: req.InviteCode,
	})
	h.writeResult(w, r, res)
}

// CompleteLogin handles POST /auth/login/complete
func (h *AuthHandler) CompleteLogin(w http.ResponseWriter, r *http.Request) {
	var req CompleteLoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		invalidInput(w, err)
		return
	}

	res := h.service.CompleteLogin(r.Context(), services.LoginIdentity{
		Email:      req.Email,
		Phone:      req.Phone,
		InviteCode: req.InviteCode,
	}, req.Code)
	h.writeResult(w, r, res)
}

// PasswordLogin handles POST /auth/login/password
func (h *AuthHandler) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req PasswordLoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		invalidInput(w, err)
		return
	}

	res := h.service.LoginWithPassword(r.Context(), req.Identifier, req.Password)
	h.writeResult(w, r, res)
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		invalidInput(w, err)
		return
	}

	res := h.service.CompleteRegistration(r.Context(), services.RegistrationRequest{
		Email:      req.Email,
		Phone:      req.Phone,
		Code:       req.Code,
		InviteCode: req.InviteCode,
		Name:       req.Name,
		Password:   req.Password,
	})
	h.writeResult(w, r, res)
}

// RequestAccess handles POST /auth/access-requests
func (h *AuthHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	res, err := h.access.CreateAccessRequest(r.Context(), req.Email, req.Phone, req.Notes)
	if err != nil {
		if !errors.Is(err, models.ErrBadRequest) {
			h.logger.Error("failed to create access request", slog.Any("error", err))
		}
		pkghttp.WriteServiceError(w, err)
		return
	}

	status := http.StatusAccepted
	if !res.Success {
		status = http.StatusOK
	}
	pkghttp.WriteJSON(w, status, map[string]interface{}{
		"success": res.Success,
		"message": res.Message,
	})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if session.Source != models.TokenSourceInternal {
		pkghttp.WriteJSON(w, http.StatusOK, session)
		return
	}

	user, err := h.service.Me(r.Context(), session.UserID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// SetPassword handles POST /auth/password
func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SetPasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SetPassword(r.Context(), session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "current password is incorrect")
			return
		}
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}
