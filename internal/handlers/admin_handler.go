package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// AuthorizationAdminInterface is the administrator surface of the authorization gate
type AuthorizationAdminInterface interface {
	ListEntries(ctx context.Context, status string) ([]*models.AuthorizationEntry, error)
	GrantAccess(ctx context.Context, req services.GrantRequest) (*models.AuthorizationEntry, error)
	ApproveRequest(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error)
	RejectRequest(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error)
	GenerateInviteCode(ctx context.Context, opts services.InviteOptions) (*services.Invite, error)
}

// UserAdminInterface manages user roles and activation
type UserAdminInterface interface {
	GetUser(ctx context.Context, id string) (*models.UserSummary, error)
	SetRole(ctx context.Context, actorID, userID, role string) (*models.UserSummary, error)
	SetActive(ctx context.Context, actorID, userID string, active bool) (*models.UserSummary, error)
}

// AdminHandler handles administrator HTTP requests.
type AdminHandler struct {
	gate   AuthorizationAdminInterface
	users  UserAdminInterface
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(gate AuthorizationAdminInterface, users UserAdminInterface, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{gate: gate, users: users, logger: logger}
}

// GrantAccessRequest creates an active rule for an email, phone or domain
type GrantAccessRequest struct {
	Email  string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone  string `json:"phone,omitempty" validate:"omitempty,min=7,max=32"`
	Domain string `json:"domain,omitempty" validate:"omitempty,fqdn,max=253"`
	Notes  string `json:"notes,omitempty" validate:"max=500"`
}

// DecisionRequest carries an optional note for approve/reject
type DecisionRequest struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

// CreateInviteRequest configures a new invite code
type CreateInviteRequest struct {
	Notes      string `json:"notes,omitempty" validate:"max=500"`
	ExpiryDays int    `json:"expiry_days,omitempty" validate:"gte=0,lte=365"`
	MaxUses    int    `json:"max_uses,omitempty" validate:"gte=0,lte=1000"`
}

// SetRoleRequest changes a user's role
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=ADMIN MANAGER USER admin manager user"`
}

// SetActiveRequest activates or deactivates a user
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func actorID(r *http.Request) string {
	if session := auth.GetSessionFromContext(r); session != nil {
		return session.UserID
	}
	return ""
}

func (h *AdminHandler) serviceError(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("admin operation failed", slog.String("operation", op), slog.Any("error", err))
	pkghttp.WriteServiceError(w, err)
}

// ListAuthorizations handles GET /admin/authorizations?status=pending
func (h *AdminHandler) ListAuthorizations(w http.ResponseWriter, r *http.Request) {
	entries, err := h.gate.ListEntries(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.serviceError(w, "list_authorizations", err)
		return
	}
	if entries == nil {
		entries = []*models.AuthorizationEntry{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GrantAuthorization handles POST /admin/authorizations
func (h *AdminHandler) GrantAuthorization(w http.ResponseWriter, r *http.Request) {
	var req GrantAccessRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	entry, err := h.gate.GrantAccess(r.Context(), services.GrantRequest{
		Email:     req.Email,
		Phone:     req.Phone,
		Domain:    req.Domain,
		Notes:     req.Notes,
		CreatedBy: actorID(r),
	})
	if err != nil {
		h.serviceError(w, "grant_access", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// ApproveAuthorization handles POST /admin/authorizations/{id}/approve
func (h *AdminHandler) ApproveAuthorization(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectAuthorization handles POST /admin/authorizations/{id}/reject
func (h *AdminHandler) RejectAuthorization(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *AdminHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "authorization id is required")
		return
	}

	var req DecisionRequest
	if r.ContentLength > 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	decideFn := h.gate.RejectRequest
	if approve {
		decideFn = h.gate.ApproveRequest
	}
	entry, err := decideFn(r.Context(), id, actorID(r), req.Note)
	if err != nil {
		h.serviceError(w, "decide_access_request", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, entry)
}

// CreateInvite handles POST /admin/invites
func (h *AdminHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req CreateInviteRequest
	if r.ContentLength > 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	invite, err := h.gate.GenerateInviteCode(r.Context(), services.InviteOptions{
		CreatedBy:  actorID(r),
		Notes:      req.Notes,
		ExpiryDays: req.ExpiryDays,
		MaxUses:    req.MaxUses,
	})
	if err != nil {
		h.serviceError(w, "create_invite", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, invite)
}

// GetUser handles GET /admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, "get_user", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// SetUserRole handles PUT /admin/users/{id}/role
func (h *AdminHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.SetRole(r.Context(), actorID(r), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		h.serviceError(w, "set_role", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// SetUserActive handles PUT /admin/users/{id}/active
func (h *AdminHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := decodeAndValidate(r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.SetActive(r.Context(), actorID(r), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		h.serviceError(w, "set_active", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}
