package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Roles
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleUser    = "USER"
)

// Access history actions
const (
	HistoryLogin          = "LOGIN"
	HistoryLoginCode      = "LOGIN_CODE"
	HistoryLoginFailed    = "LOGIN_FAILED"
	HistoryAccountLocked  = "ACCOUNT_LOCKED"
	HistoryCodeSent       = "CODE_SENT"
	HistoryPasswordSet    = "PASSWORD_SET"
	HistoryRegistered     = "REGISTERED"
	HistoryRoleChanged    = "ROLE_CHANGED"
	HistoryDeactivated    = "DEACTIVATED"
	HistoryReactivated    = "REACTIVATED"
	HistoryAdminBootstrap = "ADMIN_BOOTSTRAP"
)

type User struct {
	ID                   string
	Email                string // empty when the account is phone-only
	Phone                string // empty when the account is email-only
	Name                 string
	Role                 string
	PasswordHash         string
	PasswordChangedAt    *time.Time
	Active               bool
	Provisional          bool   // created by the authorization gate, channel not yet proven
	FailedLoginAttempts  int
	LockedUntil          *time.Time
	OneTimeCode          string
	OneTimeCodeExpiresAt *time.Time
	AccessHistory        AccessHistory
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate enforces that a user is reachable through at least one channel.
func (u *User) Validate() error {
	if u.Email == "" && u.Phone == "" {
		return fmt.Errorf("%w: user needs an email or a phone", ErrBadRequest)
	}
	switch u.Role {
	case RoleAdmin, RoleManager, RoleUser:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrBadRequest, u.Role)
	}
	return nil
}

// HasPassword reports whether a password has been set for the account
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsLocked reports whether lock-until is still in the future at the given instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Identifier returns the identifier used in tokens: email when present, phone otherwise.
func (u *User) Identifier() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Phone
}

// HistoryEntry is one item of a user's access history.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// NewHistoryEntry stamps an entry with the current UTC time
func NewHistoryEntry(action, detail string) HistoryEntry {
	return HistoryEntry{Timestamp: time.Now().UTC(), Action: action, Detail: detail}
}

// AccessHistory is stored as a JSONB array, oldest first.
type AccessHistory []HistoryEntry

// Scan implements sql.Scanner for JSONB
func (h *AccessHistory) Scan(value interface{}) error {
	if value == nil {
		*h = AccessHistory{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported access history type %T", value)
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	*h = entries
	return nil
}

// Value implements driver.Valuer for JSONB
func (h AccessHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]HistoryEntry(h))
}

// Last returns the most recent entry, or nil when the history is empty.
func (h AccessHistory) Last() *HistoryEntry {
	if len(h) == 0 {
		return nil
	}
	return &h[len(h)-1]
}
