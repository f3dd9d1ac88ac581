package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@****.com", SanitizedEmail("alice@corp.com"))
	assert.Equal(t, "b@*****.co", SanitizedEmail("b@intra.co"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("no-at-sign"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("a@b@c"))
}

func TestSanitizedPhone(t *testing.T) {
	assert.Equal(t, "+*********42", SanitizedPhone("+15550000042"))
	assert.Equal(t, "******89", SanitizedPhone("01234589"))
	assert.Equal(t, "**", SanitizedPhone("12"))
}

func TestSanitizedIdentifier(t *testing.T) {
	assert.Equal(t, "a****@****.com", SanitizedIdentifier("alice@corp.com"))
	assert.Equal(t, "+*********42", SanitizedIdentifier("+15550000042"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("email=a@corp.com"))
	assert.True(t, SanitizeQueryString("Invite_Code=ABCD1234"))
	assert.False(t, SanitizeQueryString("status=pending&limit=50"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("code", "482913", "production").Value.String())
	assert.Equal(t, "482913", RedactedAttr("code", "482913", "development").Value.String())
}
