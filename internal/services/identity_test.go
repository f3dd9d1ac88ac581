package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+1 (555) 123-4567":  "+15551234567",
		"555.123.4567":       "5551234567",
		" 0044 20 7946 0958": "00442079460958",
		"1+2":                "12",
		"+":                  "",
		"":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestNormalizePhone_DropsNonASCIIDigits(t *testing.T) {
	assert.Empty(t, NormalizePhone("+١٢٣٤٥٦٧٨"))
	assert.Equal(t, "5554567", NormalizePhone("555 ١٢٣ 4567"))
	assert.False(t, validPhone(NormalizePhone("+٥٥٥١٢٣٤٥٦٧")))
}

func TestSplitIdentifier(t *testing.T) {
	email, phone := SplitIdentifier(" Bob@Acme.COM ")
	assert.Equal(t, "bob@acme.com", email)
	assert.Empty(t, phone)

	email, phone = SplitIdentifier("+1 555 222 3333")
	assert.Empty(t, email)
	assert.Equal(t, "+15552223333", phone)
}

func TestAdminIdentity_Matches(t *testing.T) {
	admin := AdminIdentity{Email: "admin@x.com"}

	assert.True(t, admin.Matches("admin@x.com", ""))
	assert.False(t, admin.Matches("", ""))
	assert.False(t, admin.Matches("other@x.com", "+1555"))
}
