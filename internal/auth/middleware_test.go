package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifierFunc func(ctx context.Context, token string) *models.SessionPayload

func (f verifierFunc) Verify(ctx context.Context, token string) *models.SessionPayload {
	return f(ctx, token)
}

func okHandler(t *testing.T, wantRole string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := GetSessionFromContext(r)
		require.NotNil(t, payload)
		if wantRole != "" {
			assert.Equal(t, wantRole, payload.Role)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, token string) *models.SessionPayload {
		if token == "good.jwt.token" {
			return &models.SessionPayload{UserID: "u1", Role: models.RoleUser}
		}
		return nil
	})
	handler := Authenticate(verifier, "")(okHandler(t, models.RoleUser))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid bearer", "Bearer good.jwt.token", http.StatusNoContent},
		{"valid bare jwt", "good.jwt.token", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"bad scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"rejected token", "Bearer bad.jwt.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				var resp pkghttp.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "unauthorized", resp.Error)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(models.RoleAdmin)(okHandler(t, models.RoleAdmin))

	t.Run("no session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/authorizations", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("insufficient role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/authorizations", nil)
		req = req.WithContext(WithSession(req.Context(), &models.SessionPayload{UserID: "u", Role: models.RoleManager}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/authorizations", nil)
		req = req.WithContext(WithSession(req.Context(), &models.SessionPayload{UserID: "u", Role: models.RoleAdmin}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
