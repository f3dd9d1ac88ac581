package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_LogAuthAttempt_MasksIdentifier(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogAuthAttempt(context.Background(), AuditEvent{
		EventType:     "password_login",
		Identifier:    "alice@corp.com",
		IPAddress:     "198.51.100.4",
		Success:       false,
		FailureReason: "WRONG_PASSWORD",
	})

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "a****@****.com", record["identifier"])
	assert.Equal(t, "WRONG_PASSWORD", record["failure_reason"])
	assert.NotContains(t, buf.String(), "alice@corp.com")
}

func TestAuditLogger_LogAuthorizationDecision(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogAuthorizationDecision(context.Background(), "approve", "entry-1", "admin-1")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "authorization", record["audit_type"])
	assert.Equal(t, "entry-1", record["entry_id"])
	assert.Equal(t, "admin-1", record["actor_id"])
}
