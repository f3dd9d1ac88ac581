package services

import (
	"strings"
)

// AdminIdentity is the configured bootstrap administrator
type AdminIdentity struct {
	Email    string
	Phone    string
	Password string
}

// Matches reports whether either identifier is the administrator's
func (a AdminIdentity) Matches(email, phone string) bool {
	return (a.Email != "" && email == a.Email) || (a.Phone != "" && phone == a.Phone)
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps the ASCII digits of a phone number and a leading "+"
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// SplitIdentifier classifies a free-form identifier as an email or a phone
func SplitIdentifier(identifier string) (email, phone string) {
	if strings.Contains(identifier, "@") {
		return NormalizeEmail(identifier), ""
	}
	return "", NormalizePhone(identifier)
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func validPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	return len(digits) >= 7 && len(digits) <= 15
}
