package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// AdminService handles administrator actions on user accounts.
type AdminService struct {
	users       UserRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminService creates a new AdminService.
func NewAdminService(users UserRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AdminService {
	return &AdminService{
		users:       users,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// GetUser returns a user in any state
func (s *AdminService) GetUser(ctx context.Context, id string) (*models.UserSummary, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.Summarize(user), nil
}

// SetRole changes a user's role. Administrators cannot demote themselves.
func (s *AdminService) SetRole(ctx context.Context, actorID, userID, role string) (*models.UserSummary, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	switch role {
	case models.RoleAdmin, models.RoleManager, models.RoleUser:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrBadRequest, role)
	}
	if actorID == userID && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: administrators cannot demote themselves", models.ErrForbidden)
	}

	user, err := s.users.SetRole(ctx, userID, role, models.NewHistoryEntry(models.HistoryRoleChanged, role))
	if err != nil {
		return nil, err
	}

	s.logger.Info("user role changed", slog.String("user_id", userID), slog.String("role", role))
	s.auditLogger.LogAccountAction(ctx, "role_changed", userID, map[string]string{
		"actor_id": actorID,
		"role":     role,
	})
	return models.Summarize(user), nil
}

// SetActive activates or deactivates a user. Administrators cannot deactivate themselves.
func (s *AdminService) SetActive(ctx context.Context, actorID, userID string, active bool) (*models.UserSummary, error) {
	if actorID == userID && !active {
		return nil, fmt.Errorf("%w: administrators cannot deactivate themselves", models.ErrForbidden)
	}

	action := models.HistoryDeactivated
	if active {
		action = models.HistoryReactivated
	}

	user, err := s.users.SetActive(ctx, userID, active, models.NewHistoryEntry(action, actorID))
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAccountAction(ctx, strings.ToLower(action), userID, map[string]string{"actor_id": actorID})
	return models.Summarize(user), nil
}
