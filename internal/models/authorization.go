package models

import (
	"strings"
	"time"
)

// Authorization entry statuses
const (
	AuthorizationActive   = "active"
	AuthorizationPending  = "pending"
	AuthorizationRejected = "rejected"
	AuthorizationExpired  = "expired"
)

// Authorization entry kinds, one per discriminant column
const (
	EntryKindEmail  = "email"
	EntryKindPhone  = "phone"
	EntryKindDomain = "domain"
	EntryKindInvite = "invite"
)

// AuthorizationEntry is a rule or pending request granting/denying access.
// Exactly one of Email, Phone, Domain and InviteCode is set.
type AuthorizationEntry struct {
	ID         string     `json:"id"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Domain     string     `json:"domain,omitempty"`
	InviteCode string     `json:"invite_code,omitempty"`
	Status     string     `json:"status"`
	CreatedBy  string     `json:"created_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	MaxUses    *int       `json:"max_uses,omitempty"`
	UsedCount  int        `json:"used_count"`
	Notes      []string   `json:"notes"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Kind returns the discriminant that is set, or "" when none or several are.
func (e *AuthorizationEntry) Kind() string {
	kind := ""
	set := 0
	for k, v := range map[string]string{
		EntryKindEmail:  e.Email,
		EntryKindPhone:  e.Phone,
		EntryKindDomain: e.Domain,
		EntryKindInvite: e.InviteCode,
	} {
		if v != "" {
			kind = k
			set++
		}
	}
	if set != 1 {
		return ""
	}
	return kind
}

// Subject returns the value of the discriminant column
func (e *AuthorizationEntry) Subject() string {
	switch e.Kind() {
	case EntryKindEmail:
		return e.Email
	case EntryKindPhone:
		return e.Phone
	case EntryKindDomain:
		return e.Domain
	case EntryKindInvite:
		return e.InviteCode
	}
	return ""
}

// IsTimeExpired reports whether expires_at has passed at the given instant
func (e *AuthorizationEntry) IsTimeExpired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// IsExhausted reports whether an invite has no uses left
func (e *AuthorizationEntry) IsExhausted() bool {
	return e.MaxUses != nil && e.UsedCount >= *e.MaxUses
}

// EmailDomain returns the part after the last "@" of an email, lower-cased.
// It returns "" when the address has no usable domain.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
