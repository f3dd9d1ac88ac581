package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuthorizationRepository handles authorization entry data access
type AuthorizationRepository struct {
	pool *pgxpool.Pool
}

// NewAuthorizationRepository creates a new AuthorizationRepository
func NewAuthorizationRepository(db *database.DB) *AuthorizationRepository {
	return &AuthorizationRepository{pool: db.Pool}
}

const entryColumns = `id, email, phone, domain, invite_code, status, created_by, expires_at, max_uses,
	used_count, notes, created_at, updated_at`

func scanEntryRow(row rowScanner) (*models.AuthorizationEntry, error) {
	var entry models.AuthorizationEntry
	var email, phone, domain, inviteCode, createdBy *string

	err := row.Scan(
		&entry.ID, &email, &phone, &domain, &inviteCode, &entry.Status, &createdBy,
		&entry.ExpiresAt, &entry.MaxUses, &entry.UsedCount, &entry.Notes,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	entry.Email = deref(email)
	entry.Phone = deref(phone)
	entry.Domain = deref(domain)
	entry.InviteCode = deref(inviteCode)
	entry.CreatedBy = deref(createdBy)
	if entry.Notes == nil {
		entry.Notes = []string{}
	}

	return &entry, nil
}

func scanEntryRows(rows pgx.Rows) ([]*models.AuthorizationEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuthorizationEntry, 0)
	for rows.Next() {
		entry, err := scanEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorization entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorization rows: %w", err)
	}

	return entries, nil
}

func (r *AuthorizationRepository) queryOne(ctx context.Context, where string, args ...interface{}) (*models.AuthorizationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM authorization_entries WHERE ` + where + ` LIMIT 1`
	return scanEntryRow(r.pool.QueryRow(ctx, query, args...))
}

// FindByEmail returns the entry for an exact email in any status
func (r *AuthorizationRepository) FindByEmail(ctx context.Context, email string) (*models.AuthorizationEntry, error) {
	return r.queryOne(ctx, `email = $1`, email)
}

// FindByPhone returns the entry for an exact phone in any status
func (r *AuthorizationRepository) FindByPhone(ctx context.Context, phone string) (*models.AuthorizationEntry, error) {
	return r.queryOne(ctx, `phone = $1`, phone)
}

// FindActiveDomain returns the active entry for a domain. Matching is whole-value equality.
func (r *AuthorizationRepository) FindActiveDomain(ctx context.Context, domain string) (*models.AuthorizationEntry, error) {
	return r.queryOne(ctx, `domain = $1 AND status = 'active'`, domain)
}

// FindByInviteCode returns the invite entry in any status
func (r *AuthorizationRepository) FindByInviteCode(ctx context.Context, code string) (*models.AuthorizationEntry, error) {
	return r.queryOne(ctx, `invite_code = $1`, code)
}

// FindByID returns an entry by id
func (r *AuthorizationRepository) FindByID(ctx context.Context, id string) (*models.AuthorizationEntry, error) {
	return r.queryOne(ctx, `id = $1`, id)
}

// InviteCodeExists reports whether a code is already taken
func (r *AuthorizationRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM authorization_entries WHERE invite_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// ListByStatus returns entries with the given status, newest first. An empty
// status lists everything.
func (r *AuthorizationRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.AuthorizationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM authorization_entries
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorization entries: %w", err)
	}

	return scanEntryRows(rows)
}

// Create inserts an entry; exactly one discriminant must be set.
func (r *AuthorizationRepository) Create(ctx context.Context, entry *models.AuthorizationEntry) (*models.AuthorizationEntry, error) {
	if entry.Kind() == "" {
		return nil, fmt.Errorf("%w: authorization entry needs exactly one of email, phone, domain, invite code", models.ErrBadRequest)
	}

	entry.ID = uuid.New().String()
	if entry.Notes == nil {
		entry.Notes = []string{}
	}

	query := `
		INSERT INTO authorization_entries (id, email, phone, domain, invite_code, status, created_by, expires_at, max_uses, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + entryColumns

	return scanEntryRow(r.pool.QueryRow(ctx, query,
		entry.ID, nullable(entry.Email), nullable(entry.Phone), nullable(entry.Domain), nullable(entry.InviteCode),
		entry.Status, nullable(entry.CreatedBy), entry.ExpiresAt, entry.MaxUses, entry.Notes,
	))
}

// UpdateStatus moves an entry to a new status when it is currently in one of
// the allowed statuses, appending notes. It returns models.ErrInvalidTransition
// when the entry exists but is in another status.
func (r *AuthorizationRepository) UpdateStatus(ctx context.Context, id, status string, from []string, notes []string) (*models.AuthorizationEntry, error) {
	if notes == nil {
		notes = []string{}
	}

	query := `
		UPDATE authorization_entries
		SET status = $2, notes = notes || $4::text[], updated_at = NOW()
		WHERE id = $1 AND status = ANY($3::text[])
		RETURNING ` + entryColumns

	entry, err := scanEntryRow(r.pool.QueryRow(ctx, query, id, status, from, notes))
	if errors.Is(err, models.ErrNotFound) {
		if _, findErr := r.FindByID(ctx, id); findErr == nil {
			return nil, models.ErrInvalidTransition
		}
	}
	return entry, err
}

// ConsumeInvite atomically records one use of an active, unexpired invite
// with uses left, flipping it to expired when this use exhausts it. It
// returns models.ErrNotFound when no usable invite matched.
func (r *AuthorizationRepository) ConsumeInvite(ctx context.Context, code string, now time.Time) (*models.AuthorizationEntry, error) {
	query := `
		UPDATE authorization_entries
		SET used_count = used_count + 1,
			status = CASE WHEN max_uses IS NOT NULL AND used_count + 1 >= max_uses THEN 'expired' ELSE status END,
			updated_at = NOW()
		WHERE invite_code = $1
			AND status = 'active'
			AND (expires_at IS NULL OR expires_at >= $2)
			AND (max_uses IS NULL OR used_count < max_uses)
		RETURNING ` + entryColumns

	return scanEntryRow(r.pool.QueryRow(ctx, query, code, now))
}

// MarkExpired flips an entry to expired
func (r *AuthorizationRepository) MarkExpired(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE authorization_entries SET status = 'expired', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ExpireStaleInvites expires active invites whose deadline or uses ran out.
func (r *AuthorizationRepository) ExpireStaleInvites(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE authorization_entries SET status = 'expired', updated_at = NOW()
		WHERE invite_code IS NOT NULL AND status = 'active'
			AND ((expires_at IS NOT NULL AND expires_at < $1) OR (max_uses IS NOT NULL AND used_count >= max_uses))`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
