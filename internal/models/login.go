package models

import "time"

// LoginStatus is the machine-readable outcome of a login-flow operation.
type LoginStatus string

const (
	StatusHasPassword          LoginStatus = "HAS_PASSWORD"
	StatusNeedsCode            LoginStatus = "NEEDS_CODE"
	StatusNeedsRegistration    LoginStatus = "NEEDS_REGISTRATION"
	StatusLocked               LoginStatus = "LOCKED"
	StatusInactive             LoginStatus = "INACTIVE"
	StatusUnauthorizedPending  LoginStatus = "UNAUTHORIZED_PENDING"
	StatusUnauthorizedRejected LoginStatus = "UNAUTHORIZED_REJECTED"
	StatusAuthenticated        LoginStatus = "AUTHENTICATED"
	StatusNotFound             LoginStatus = "NOT_FOUND"
	StatusNoPasswordSet        LoginStatus = "NO_PASSWORD_SET"
	StatusWrongPassword        LoginStatus = "WRONG_PASSWORD"
	StatusInvalidCode          LoginStatus = "INVALID_CODE"
	StatusInvalidInput         LoginStatus = "INVALID_INPUT"
	StatusDeliveryFailed       LoginStatus = "DELIVERY_FAILED"
	StatusInternalError        LoginStatus = "INTERNAL_ERROR"
)

// Channels a one-time code can be delivered through
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// LoginResult is returned by every login-flow operation. Expected failures
// (wrong password, expired code, locked account) are statuses, not errors.
type LoginResult struct {
	Status           LoginStatus  `json:"status"`
	Message          string       `json:"message"`
	Token            string       `json:"token,omitempty"`
	TokenExpiresAt   *time.Time   `json:"token_expires_at,omitempty"`
	User             *UserSummary `json:"user,omitempty"`
	RequiresPassword bool         `json:"requires_password,omitempty"`
	Channel          string       `json:"channel,omitempty"`
	CodeExpiresAt    *time.Time   `json:"code_expires_at,omitempty"`
	PreviewURL       string       `json:"preview_url,omitempty"`
	Attempts         int          `json:"attempts,omitempty"`
	MaxAttempts      int          `json:"max_attempts,omitempty"`
	LockExpires      *time.Time   `json:"lock_expires,omitempty"`
	RemainingMinutes int          `json:"remaining_minutes,omitempty"`
}

// UserSummary is the client-facing view of a user record.
type UserSummary struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	HasPassword bool   `json:"has_password"`
}

// Summarize converts a user record to its client-facing view
func Summarize(u *User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:          u.ID,
		Email:       u.Email,
		Phone:       u.Phone,
		Name:        u.Name,
		Role:        u.Role,
		Active:      u.Active,
		HasPassword: u.HasPassword(),
	}
}
