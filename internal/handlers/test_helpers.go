package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext attaches a verified internal session to the request
func WithAuthContext(req *http.Request, userID, identifier, role string) *http.Request {
	now := time.Now()
	session := &models.SessionPayload{
		UserID:     userID,
		Identifier: identifier,
		Role:       role,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Hour),
		Source:     models.TokenSourceInternal,
	}
	return req.WithContext(auth.WithSession(req.Context(), session))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	InitiateLoginFunc        func(ctx context.Context, id services.LoginIdentity) *models.LoginResult
	CompleteLoginFunc        func(ctx context.Context, id services.LoginIdentity, code string) *models.LoginResult
	LoginWithPasswordFunc    func(ctx context.Context, identifier, password string) *models.LoginResult
	CompleteRegistrationFunc func(ctx context.Context, req services.RegistrationRequest) *models.LoginResult
	SetPasswordFunc          func(ctx context.Context, userID, currentPassword, newPassword string) error
	MeFunc                   func(ctx context.Context, userID string) (*models.UserSummary, error)
}

func (m *MockLoginService) InitiateLogin(ctx context.Context, id services.LoginIdentity) *models.LoginResult {
	if m.InitiateLoginFunc == nil {
		return &models.LoginResult{Status: models.StatusInternalError}
	}
	return m.InitiateLoginFunc(ctx, id)
}

func (m *MockLoginService) CompleteLogin(ctx context.Context, id services.LoginIdentity, code string) *models.LoginResult {
	if m.CompleteLoginFunc == nil {
		return &models.LoginResult{Status: models.StatusInvalidCode}
	}
	return m.CompleteLoginFunc(ctx, id, code)
}

func (m *MockLoginService) LoginWithPassword(ctx context.Context, identifier, password string) *models.LoginResult {
	if m.LoginWithPasswordFunc == nil {
		return &models.LoginResult{Status: models.StatusNotFound}
	}
	return m.LoginWithPasswordFunc(ctx, identifier, password)
}

func (m *MockLoginService) CompleteRegistration(ctx context.Context, req services.RegistrationRequest) *models.LoginResult {
	if m.CompleteRegistrationFunc == nil {
		return &models.LoginResult{Status: models.StatusInvalidCode}
	}
	return m.CompleteRegistrationFunc(ctx, req)
}

func (m *MockLoginService) SetPassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.SetPasswordFunc == nil {
		return nil
	}
	return m.SetPasswordFunc(ctx, userID, currentPassword, newPassword)
}

func (m *MockLoginService) Me(ctx context.Context, userID string) (*models.UserSummary, error) {
	if m.MeFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.MeFunc(ctx, userID)
}

// MockAccessRequestService implements AccessRequestServiceInterface for testing
type MockAccessRequestService struct {
	CreateAccessRequestFunc func(ctx context.Context, email, phone, notes string) (*services.AccessRequestResult, error)
}

func (m *MockAccessRequestService) CreateAccessRequest(ctx context.Context, email, phone, notes string) (*services.AccessRequestResult, error) {
	if m.CreateAccessRequestFunc == nil {
		return &services.AccessRequestResult{Success: true, Message: "Access request submitted"}, nil
	}
	return m.CreateAccessRequestFunc(ctx, email, phone, notes)
}

// MockAuthorizationAdmin implements AuthorizationAdminInterface for testing
type MockAuthorizationAdmin struct {
	ListEntriesFunc        func(ctx context.Context, status string) ([]*models.AuthorizationEntry, error)
	GrantAccessFunc        func(ctx context.Context, req services.GrantRequest) (*models.AuthorizationEntry, error)
	ApproveRequestFunc     func(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error)
	RejectRequestFunc      func(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error)
	GenerateInviteCodeFunc func(ctx context.Context, opts services.InviteOptions) (*services.Invite, error)
}

func (m *MockAuthorizationAdmin) ListEntries(ctx context.Context, status string) ([]*models.AuthorizationEntry, error) {
	if m.ListEntriesFunc == nil {
		return nil, nil
	}
	return m.ListEntriesFunc(ctx, status)
}

func (m *MockAuthorizationAdmin) GrantAccess(ctx context.Context, req services.GrantRequest) (*models.AuthorizationEntry, error) {
	if m.GrantAccessFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.GrantAccessFunc(ctx, req)
}

func (m *MockAuthorizationAdmin) ApproveRequest(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error) {
	if m.ApproveRequestFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ApproveRequestFunc(ctx, id, actorID, note)
}

func (m *MockAuthorizationAdmin) RejectRequest(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error) {
	if m.RejectRequestFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RejectRequestFunc(ctx, id, actorID, note)
}

func (m *MockAuthorizationAdmin) GenerateInviteCode(ctx context.Context, opts services.InviteOptions) (*services.Invite, error) {
	if m.GenerateInviteCodeFunc == nil {
		return nil, models.ErrInviteCodeExhausted
	}
	return m.GenerateInviteCodeFunc(ctx, opts)
}

// MockUserAdmin implements UserAdminInterface for testing
type MockUserAdmin struct {
	GetUserFunc   func(ctx context.Context, id string) (*models.UserSummary, error)
	SetRoleFunc   func(ctx context.Context, actorID, userID, role string) (*models.UserSummary, error)
	SetActiveFunc func(ctx context.Context, actorID, userID string, active bool) (*models.UserSummary, error)
}

func (m *MockUserAdmin) GetUser(ctx context.Context, id string) (*models.UserSummary, error) {
	if m.GetUserFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserFunc(ctx, id)
}

func (m *MockUserAdmin) SetRole(ctx context.Context, actorID, userID, role string) (*models.UserSummary, error) {
	if m.SetRoleFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.SetRoleFunc(ctx, actorID, userID, role)
}

func (m *MockUserAdmin) SetActive(ctx context.Context, actorID, userID string, active bool) (*models.UserSummary, error) {
	if m.SetActiveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.SetActiveFunc(ctx, actorID, userID, active)
}
