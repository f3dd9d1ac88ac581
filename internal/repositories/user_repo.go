package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository is the credential store adapter: the only component that
// reads or writes user rows.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, phone, name, role, password_hash, password_changed_at, active, provisional,
	failed_login_attempts, locked_until, one_time_code, one_time_code_expires_at, access_history,
	created_at, updated_at`

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var email, phone, passwordHash, oneTimeCode *string

	err := scanner.Scan(
		&user.ID, &email, &phone, &user.Name, &user.Role, &passwordHash, &user.PasswordChangedAt,
		&user.Active, &user.Provisional, &user.FailedLoginAttempts, &user.LockedUntil,
		&oneTimeCode, &user.OneTimeCodeExpiresAt, &user.AccessHistory,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.Email = deref(email)
	user.Phone = deref(phone)
	user.PasswordHash = deref(passwordHash)
	user.OneTimeCode = deref(oneTimeCode)

	return &user, nil
}

func (r *UserRepository) queryOne(ctx context.Context, where string, args ...interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` LIMIT 1`
	return scanUserRow(r.pool.QueryRow(ctx, query, args...))
}

// FindByEmail returns the active user with the given email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.queryOne(ctx, `email = $1 AND active`, email)
}

// FindByPhone returns the active user with the given phone
func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.queryOne(ctx, `phone = $1 AND active`, phone)
}

// FindByEmailOrPhone returns an active user matching either identifier.
// An email match wins over a phone match when both exist.
func (r *UserRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) (*models.User, error) {
	return r.queryOne(ctx,
		`active AND ((email = $1 AND $1 <> '') OR (phone = $2 AND $2 <> '')) ORDER BY (email = $1) DESC NULLS LAST`,
		email, phone)
}

// FindByID returns the user regardless of its active flag; admin flows need inactive users.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.queryOne(ctx, `id = $1`, id)
}

// FindAccountByEmail returns the user with the given email in any state
func (r *UserRepository) FindAccountByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.queryOne(ctx, `email = $1`, email)
}

// FindAccountByPhone returns the user with the given phone in any state
func (r *UserRepository) FindAccountByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.queryOne(ctx, `phone = $1`, phone)
}

// Create inserts a user. ID and timestamps are assigned here.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	user.ID = uuid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, phone, name, role, password_hash, password_changed_at, active, provisional,
			access_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, nullable(user.Email), nullable(user.Phone), user.Name, user.Role,
		nullable(user.PasswordHash), user.PasswordChangedAt, user.Active, user.Provisional,
		user.AccessHistory, user.CreatedAt, user.UpdatedAt,
	))
}

// CreateProvisional inserts an inactive, provisional user for an identifier that
// just passed the authorization gate.
func (r *UserRepository) CreateProvisional(ctx context.Context, email, phone, role string) (*models.User, error) {
	return r.Create(ctx, &models.User{
		Email:       email,
		Phone:       phone,
		Role:        role,
		Active:      false,
		Provisional: true,
	})
}

// Activate marks the user active, appending a history entry in the same statement
func (r *UserRepository) Activate(ctx context.Context, id string, entry models.HistoryEntry) error {
	return r.exec(ctx, `
		UPDATE users SET active = TRUE, access_history = access_history || $2::jsonb, updated_at = NOW()
		WHERE id = $1`, id, historyJSON(entry))
}

// SetActive toggles the active flag. Provisional users become regular users.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, entry models.HistoryEntry) (*models.User, error) {
	query := `
		UPDATE users SET active = $2, provisional = FALSE, access_history = access_history || $3::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUserRow(r.pool.QueryRow(ctx, query, id, active, historyJSON(entry)))
}

// SetRole changes the user's role
func (r *UserRepository) SetRole(ctx context.Context, id, role string, entry models.HistoryEntry) (*models.User, error) {
	query := `
		UPDATE users SET role = $2, access_history = access_history || $3::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUserRow(r.pool.QueryRow(ctx, query, id, role, historyJSON(entry)))
}

// SetPassword stores a new password hash and clears any lockout state
func (r *UserRepository) SetPassword(ctx context.Context, id, passwordHash string, entry models.HistoryEntry) error {
	return r.exec(ctx, `
		UPDATE users SET password_hash = $2, password_changed_at = NOW(), failed_login_attempts = 0,
			locked_until = NULL, access_history = access_history || $3::jsonb, updated_at = NOW()
		WHERE id = $1`, id, passwordHash, historyJSON(entry))
}

// SetOneTimeCode mirrors the last dispatched code on the user row
func (r *UserRepository) SetOneTimeCode(ctx context.Context, id, code string, expiresAt time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET one_time_code = $2, one_time_code_expires_at = $3, updated_at = NOW()
		WHERE id = $1`, id, code, expiresAt)
}

// ClearOneTimeCode removes the stored code after a successful code login. A
// provisional account becomes a regular active one.
func (r *UserRepository) ClearOneTimeCode(ctx context.Context, id string, entry models.HistoryEntry) error {
	return r.exec(ctx, `
		UPDATE users SET one_time_code = NULL, one_time_code_expires_at = NULL,
			active = (active OR provisional), provisional = FALSE,
			access_history = access_history || $2::jsonb, updated_at = NOW()
		WHERE id = $1`, id, historyJSON(entry))
}

// FinishRegistration stores the profile and first password of a password-less
// account and makes it a regular active user
func (r *UserRepository) FinishRegistration(ctx context.Context, id, name, passwordHash string, entry models.HistoryEntry) (*models.User, error) {
	query := `
		UPDATE users SET name = $2, password_hash = $3, password_changed_at = NOW(), active = TRUE,
			provisional = FALSE, one_time_code = NULL, one_time_code_expires_at = NULL,
			access_history = access_history || $4::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUserRow(r.pool.QueryRow(ctx, query, id, name, passwordHash, historyJSON(entry)))
}

// AppendHistory appends one entry to the user's access history
func (r *UserRepository) AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error {
	return r.exec(ctx, `
		UPDATE users SET access_history = access_history || $2::jsonb, updated_at = NOW()
		WHERE id = $1`, id, historyJSON(entry))
}

// RecordFailedLogin atomically increments the failure counter. When the counter
// reaches maxAttempts the account is locked for lockFor, the counter restarts
// at zero and an ACCOUNT_LOCKED entry is appended. It returns the attempt
// number just recorded and the lock expiry, if one was set. While a lock is
// active nothing is counted and ErrAccountLocked is returned.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	lockEntry := historyJSON(models.NewHistoryEntry(models.HistoryAccountLocked,
		fmt.Sprintf("%d consecutive failed password attempts", maxAttempts)))
	failEntry := historyJSON(models.NewHistoryEntry(models.HistoryLoginFailed, "wrong password"))

	query := `
		UPDATE users SET
			failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= $2 THEN 0 ELSE failed_login_attempts + 1 END,
			locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3) ELSE locked_until END,
			access_history = access_history || CASE WHEN failed_login_attempts + 1 >= $2 THEN $4::jsonb ELSE $5::jsonb END,
			updated_at = NOW()
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= NOW())
		RETURNING failed_login_attempts, locked_until, (failed_login_attempts = 0 AND locked_until > NOW())
	`

	var attempts int
	var lockedUntil *time.Time
	var locked bool
	err := r.pool.QueryRow(ctx, query, id, maxAttempts, lockFor.Seconds(), lockEntry, failEntry).
		Scan(&attempts, &lockedUntil, &locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, r.lockedOrMissing(ctx, id)
	}
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	if locked {
		return maxAttempts, lockedUntil, nil
	}
	return attempts, nil, nil
}

// RecordSuccessfulLogin zeroes the failure counter, clears an expired lock and
// appends the login entry. A lock applied after the caller read the row wins:
// nothing is written and ErrAccountLocked is returned.
func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, id string, entry models.HistoryEntry) error {
	err := r.exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL,
			access_history = access_history || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= NOW())`, id, historyJSON(entry))
	if errors.Is(err, models.ErrNotFound) {
		return r.lockedOrMissing(ctx, id)
	}
	return err
}

// lockedOrMissing explains a lock-guarded UPDATE that matched no row
func (r *UserRepository) lockedOrMissing(ctx context.Context, id string) error {
	var locked bool
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(locked_until > NOW(), FALSE) FROM users WHERE id = $1`, id).Scan(&locked)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if locked {
		return models.ErrAccountLocked
	}
	return models.ErrNotFound
}

// UpsertAdmin makes sure the bootstrap administrator exists and is an active
// ADMIN. Existing rows keep their id and password.
func (r *UserRepository) UpsertAdmin(ctx context.Context, email, phone, passwordHash string) (*models.User, error) {
	existing, err := r.findAdminAccount(ctx, email, phone)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		now := time.Now()
		created, err := r.Create(ctx, &models.User{
			Email:             email,
			Phone:             phone,
			Name:              "Administrator",
			Role:              models.RoleAdmin,
			PasswordHash:      passwordHash,
			PasswordChangedAt: &now,
			Active:            true,
			AccessHistory:     models.AccessHistory{models.NewHistoryEntry(models.HistoryAdminBootstrap, "")},
		})
		if !errors.Is(err, models.ErrConflict) {
			return created, err
		}
		// a concurrent first login inserted the record
		if existing, err = r.findAdminAccount(ctx, email, phone); err != nil {
			return nil, err
		}
	}

	if existing.Active && existing.Role == models.RoleAdmin {
		return existing, nil
	}

	query := `
		UPDATE users SET role = 'ADMIN', active = TRUE, provisional = FALSE,
			password_hash = COALESCE(password_hash, $2), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUserRow(r.pool.QueryRow(ctx, query, existing.ID, nullable(passwordHash)))
}

func (r *UserRepository) findAdminAccount(ctx context.Context, email, phone string) (*models.User, error) {
	if email != "" {
		user, err := r.FindAccountByEmail(ctx, email)
		if err == nil || !errors.Is(err, models.ErrNotFound) {
			return user, err
		}
	}
	if phone != "" {
		return r.FindAccountByPhone(ctx, phone)
	}
	return nil, models.ErrNotFound
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func historyJSON(entry models.HistoryEntry) string {
	raw, err := json.Marshal([]models.HistoryEntry{entry})
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
