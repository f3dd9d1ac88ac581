package services

import (
	"context"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/codes"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// UserRepository is the credential store as seen by the services. It is the
// only way the services read or write user records.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	FindByEmailOrPhone(ctx context.Context, email, phone string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindAccountByEmail(ctx context.Context, email string) (*models.User, error)
	FindAccountByPhone(ctx context.Context, phone string) (*models.User, error)

	Create(ctx context.Context, user *models.User) (*models.User, error)
	CreateProvisional(ctx context.Context, email, phone, role string) (*models.User, error)
	Activate(ctx context.Context, id string, entry models.HistoryEntry) error
	SetActive(ctx context.Context, id string, active bool, entry models.HistoryEntry) (*models.User, error)
	SetRole(ctx context.Context, id, role string, entry models.HistoryEntry) (*models.User, error)
	SetPassword(ctx context.Context, id, passwordHash string, entry models.HistoryEntry) error
	SetOneTimeCode(ctx context.Context, id, code string, expiresAt time.Time) error
	ClearOneTimeCode(ctx context.Context, id string, entry models.HistoryEntry) error
	FinishRegistration(ctx context.Context, id, name, passwordHash string, entry models.HistoryEntry) (*models.User, error)
	AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (int, *time.Time, error)
	RecordSuccessfulLogin(ctx context.Context, id string, entry models.HistoryEntry) error
	UpsertAdmin(ctx context.Context, email, phone, passwordHash string) (*models.User, error)
}

// AuthorizationRepository persists authorization entries
type AuthorizationRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.AuthorizationEntry, error)
	FindByPhone(ctx context.Context, phone string) (*models.AuthorizationEntry, error)
	FindActiveDomain(ctx context.Context, domain string) (*models.AuthorizationEntry, error)
	FindByInviteCode(ctx context.Context, code string) (*models.AuthorizationEntry, error)
	FindByID(ctx context.Context, id string) (*models.AuthorizationEntry, error)
	InviteCodeExists(ctx context.Context, code string) (bool, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.AuthorizationEntry, error)
	Create(ctx context.Context, entry *models.AuthorizationEntry) (*models.AuthorizationEntry, error)
	UpdateStatus(ctx context.Context, id, status string, from []string, notes []string) (*models.AuthorizationEntry, error)
	ConsumeInvite(ctx context.Context, code string, now time.Time) (*models.AuthorizationEntry, error)
	MarkExpired(ctx context.Context, id string) error
	ExpireStaleInvites(ctx context.Context, now time.Time) (int64, error)
}

// CodeRegistry issues and verifies one-time codes
type CodeRegistry interface {
	Register(ctx context.Context, identifier, channel string) (*codes.Issued, error)
	Verify(ctx context.Context, identifier, code, channel string) bool
}

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(user *models.User) (string, time.Time, error)
}

// PasswordHasher hashes and checks passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// CodeSender delivers one-time codes
type CodeSender interface {
	SendCode(ctx context.Context, identifier, code, channel string) (*DeliveryResult, error)
}

// DecisionNotifier tells requesters about access decisions
type DecisionNotifier interface {
	SendAccessDecision(ctx context.Context, identifier, channel string, approved bool) (*DeliveryResult, error)
}
