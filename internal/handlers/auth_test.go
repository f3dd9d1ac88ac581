package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
)

func TestInitiateLogin_NeedsCode(t *testing.T) {
	var got services.LoginIdentity
	mock := &handlers.MockLoginService{
		InitiateLoginFunc: func(ctx context.Context, id services.LoginIdentity) *models.LoginResult {
			got = id
			return &models.LoginResult{Status: models.StatusNeedsCode, Message: "A sign-in code was sent to your email", Channel: models.ChannelEmail}
		},
	}

	h := handlers.NewAuthHandler(mock, nil, nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login/initiate", handlers.InitiateLoginRequest{
		Email:      "alice@example.com",
		InviteCode: "ABCD1234",
	})
	w := httptest.NewRecorder()
	h.InitiateLogin(w, req)

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.StatusNeedsCode, resp.Status)
	assert.Equal(t, models.ChannelEmail, resp.Channel)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "ABCD1234", got.InviteCode)
}

func TestInitiateLogin_ValidationFailure(t *testing.T) {
	called := false
	mock := &handlers.MockLoginService{
		InitiateLoginFunc: func(ctx context.Context, id services.LoginIdentity) *models.LoginResult {
			called = true
			return &models.LoginResult{Status: models.StatusNeedsCode}
		},
	}
	h := handlers.NewAuthHandler(mock, nil, nil, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"no identifier", handlers.InitiateLoginRequest{}},
		{"bad email", handlers.InitiateLoginRequest{Email: "not-an-email"}},
		{"bad invite", handlers.InitiateLoginRequest{Email: "a@b.com", InviteCode: "no spaces!"}},
		{"unknown field", map[string]string{"email": "a@b.com", "role": "ADMIN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.InitiateLogin(w, handlers.NewTestRequest(t, "POST", "/auth/login/initiate", tt.body))

			var resp models.LoginResult
			handlers.AssertJSONResponse(t, w, 400, &resp)
			assert.Equal(t, models.StatusInvalidInput, resp.Status)
			assert.NotEmpty(t, resp.Message)
		})
	}
	assert.False(t, called)
}

func TestInitiateLogin_MalformedBody(t *testing.T) {
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil, nil)
	req := httptest.NewRequest("POST", "/auth/login/initiate", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.InitiateLogin(w, req)

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 400, &resp)
	assert.Equal(t, "invalid request body", resp.Message)
}

func TestStatusHTTPCode(t *testing.T) {
	tests := map[models.LoginStatus]int{
		models.StatusAuthenticated:        http.StatusOK,
		models.StatusHasPassword:          http.StatusOK,
		models.StatusNeedsCode:            http.StatusOK,
		models.StatusNeedsRegistration:    http.StatusOK,
		models.StatusUnauthorizedPending:  http.StatusAccepted,
		models.StatusUnauthorizedRejected: http.StatusForbidden,
		models.StatusInactive:             http.StatusForbidden,
		models.StatusLocked:               http.StatusLocked,
		models.StatusWrongPassword:        http.StatusUnauthorized,
		models.StatusNotFound:             http.StatusUnauthorized,
		models.StatusNoPasswordSet:        http.StatusUnauthorized,
		models.StatusInvalidCode:          http.StatusUnauthorized,
		models.StatusInvalidInput:         http.StatusBadRequest,
		models.StatusDeliveryFailed:       http.StatusBadGateway,
		models.StatusInternalError:        http.StatusInternalServerError,
	}
	for status, code := range tests {
		assert.Equal(t, code, handlers.StatusHTTPCode(status), string(status))
	}
}

func TestCompleteLogin_Authenticated(t *testing.T) {
	mock := &handlers.MockLoginService{
		CompleteLoginFunc: func(ctx context.Context, id services.LoginIdentity, code string) *models.LoginResult {
			assert.Equal(t, "+15551234567", id.Phone)
			assert.Equal(t, "482913", code)
			return &models.LoginResult{
				Status: models.StatusAuthenticated,
				Token:  "jwt-token",
				User:   &models.UserSummary{ID: "u-1", Phone: "+15551234567", Role: models.RoleUser, Active: true},
			}
		},
	}

	h := handlers.NewAuthHandler(mock, nil, nil, nil)
	w := httptest.NewRecorder()
	h.CompleteLogin(w, handlers.NewTestRequest(t, "POST", "/auth/login/complete", handlers.CompleteLoginRequest{
		Phone: "+15551234567",
		Code:  "482913",
	}))

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "jwt-token", resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, "u-1", resp.User.ID)
}

func TestCompleteLogin_RejectsNonNumericCode(t *testing.T) {
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil, nil)
	w := httptest.NewRecorder()
	h.CompleteLogin(w, handlers.NewTestRequest(t, "POST", "/auth/login/complete", handlers.CompleteLoginRequest{
		Email: "alice@example.com",
		Code:  "12ab56",
	}))

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 400, &resp)
	assert.Contains(t, resp.Message, "Code")
}

func TestPasswordLogin_Locked(t *testing.T) {
	mock := &handlers.MockLoginService{
		LoginWithPasswordFunc: func(ctx context.Context, identifier, password string) *models.LoginResult {
			return &models.LoginResult{Status: models.StatusLocked, Message: "Account locked", RemainingMinutes: 15}
		},
	}

	h := handlers.NewAuthHandler(mock, nil, nil, nil)
	w := httptest.NewRecorder()
	h.PasswordLogin(w, handlers.NewTestRequest(t, "POST", "/auth/login/password", handlers.PasswordLoginRequest{
		Identifier: "alice@example.com",
		Password:   "wrong-password",
	}))

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 423, &resp)
	assert.Equal(t, models.StatusLocked, resp.Status)
	assert.Equal(t, 15, resp.RemainingMinutes)
}

func TestPasswordLogin_WrongPassword(t *testing.T) {
	mock := &handlers.MockLoginService{
		LoginWithPasswordFunc: func(ctx context.Context, identifier, password string) *models.LoginResult {
			return &models.LoginResult{Status: models.StatusWrongPassword, Message: "Invalid credentials", Attempts: 1, MaxAttempts: 5}
		},
	}

	h := handlers.NewAuthHandler(mock, nil, nil, nil)
	w := httptest.NewRecorder()
	h.PasswordLogin(w, handlers.NewTestRequest(t, "POST", "/auth/login/password", handlers.PasswordLoginRequest{
		Identifier: "alice@example.com",
		Password:   "nope",
	}))

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 401, &resp)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 5, resp.MaxAttempts)
}

func TestRegister_PassesAllFields(t *testing.T) {
	var got services.RegistrationRequest
	mock := &handlers.MockLoginService{
		CompleteRegistrationFunc: func(ctx context.Context, req services.RegistrationRequest) *models.LoginResult {
			got = req
			return &models.LoginResult{Status: models.StatusAuthenticated, Token: "t"}
		},
	}

	h := handlers.NewAuthHandler(mock, nil, nil, nil)
	w := httptest.NewRecorder()
	h.Register(w, handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:      "new@example.com",
		Code:       "123456",
		InviteCode: "WELCOME1",
		Name:       "New Person",
		Password:   "long-enough-pw",
	}))

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.Equal(t, "new@example.com", got.Email)
	assert.Equal(t, "WELCOME1", got.InviteCode)
	assert.Equal(t, "New Person", got.Name)
	assert.Equal(t, "long-enough-pw", got.Password)
}

func TestRegister_ShortPassword(t *testing.T) {
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil, nil)
	w := httptest.NewRecorder()
	h.Register(w, handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "new@example.com",
		Code:     "123456",
		Name:     "New Person",
		Password: "short",
	}))

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 400, &resp)
	assert.Contains(t, resp.Message, "Password")
}

func TestRequestAccess(t *testing.T) {
	mock := &handlers.MockAccessRequestService{}
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, mock, nil, nil)

	w := httptest.NewRecorder()
	h.RequestAccess(w, handlers.NewTestRequest(t, "POST", "/auth/access-requests", handlers.AccessRequest{
		Email: "visitor@example.com",
		Notes: "contractor on project X",
	}))

	var resp map[string]interface{}
	handlers.AssertJSONResponse(t, w, 202, &resp)
	assert.Equal(t, true, resp["success"])
}

func TestRequestAccess_AlreadyAuthorized(t *testing.T) {
	mock := &handlers.MockAccessRequestService{
		CreateAccessRequestFunc: func(ctx context.Context, email, phone, notes string) (*services.AccessRequestResult, error) {
			return &services.AccessRequestResult{Success: false, Message: "You already have access"}, nil
		},
	}
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, mock, nil, nil)

	w := httptest.NewRecorder()
	h.RequestAccess(w, handlers.NewTestRequest(t, "POST", "/auth/access-requests", handlers.AccessRequest{Phone: "+15551234567"}))

	var resp map[string]interface{}
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, false, resp["success"])
}

func TestMe(t *testing.T) {
	mock := &handlers.MockLoginService{
		MeFunc: func(ctx context.Context, userID string) (*models.UserSummary, error) {
			return &models.UserSummary{ID: userID, Email: "alice@example.com", Role: models.RoleUser}, nil
		},
	}
	h := handlers.NewAuthHandler(mock, nil, nil, nil)

	req := handlers.WithAuthContext(httptest.NewRequest("GET", "/auth/me", nil), "u-7", "alice@example.com", models.RoleUser)
	w := httptest.NewRecorder()
	h.Me(w, req)

	var resp models.UserSummary
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "u-7", resp.ID)
}

func TestMe_ExternalSession(t *testing.T) {
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil, nil)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req = req.WithContext(auth.WithSession(req.Context(), &models.SessionPayload{
		UserID:     "google-sub",
		Identifier: "bob@example.com",
		Role:       models.RoleUser,
		Source:     models.TokenSourceGoogle,
	}))
	w := httptest.NewRecorder()
	h.Me(w, req)

	var resp models.SessionPayload
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.TokenSourceGoogle, resp.Source)
}

func TestMe_NoSession(t *testing.T) {
	h := handlers.NewAuthHandler(&handlers.MockLoginService{}, nil, nil, nil)
	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest("GET", "/auth/me", nil))

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestSetPassword(t *testing.T) {
	var gotUser, gotNew string
	mock := &handlers.MockLoginService{
		SetPasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) error {
			gotUser, gotNew = userID, newPassword
			return nil
		},
	}
	h := handlers.NewAuthHandler(mock, nil, nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/password", handlers.SetPasswordRequest{NewPassword: "brand-new-password"})
	req = handlers.WithAuthContext(req, "u-3", "carol@example.com", models.RoleUser)
	w := httptest.NewRecorder()
	h.SetPassword(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.Equal(t, "u-3", gotUser)
	assert.Equal(t, "brand-new-password", gotNew)
}

func TestSetPassword_WrongCurrent(t *testing.T) {
	mock := &handlers.MockLoginService{
		SetPasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) error {
			return models.ErrUnauthorized
		},
	}
	h := handlers.NewAuthHandler(mock, nil, nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/password", handlers.SetPasswordRequest{
		CurrentPassword: "guess",
		NewPassword:     "brand-new-password",
	})
	req = handlers.WithAuthContext(req, "u-3", "carol@example.com", models.RoleUser)
	w := httptest.NewRecorder()
	h.SetPassword(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
