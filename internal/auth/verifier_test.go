package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/oauth2/v2"
)

type mockUserFinder struct {
	FindByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	FindByPhoneFunc func(ctx context.Context, phone string) (*models.User, error)
}

func (m *mockUserFinder) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.FindByEmailFunc != nil {
		return m.FindByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserFinder) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	if m.FindByPhoneFunc != nil {
		return m.FindByPhoneFunc(ctx, phone)
	}
	return nil, models.ErrNotFound
}

type stubVerifier struct {
	name    string
	payload *models.SessionPayload
	err     error
	calls   int
}

func (s *stubVerifier) Name() string { return s.name }

func (s *stubVerifier) Verify(context.Context, string) (*models.SessionPayload, error) {
	s.calls++
	return s.payload, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerifierChain_Order(t *testing.T) {
	ctx := context.Background()

	t.Run("skips not applicable verifiers", func(t *testing.T) {
		first := &stubVerifier{name: "first", err: ErrNotApplicable}
		second := &stubVerifier{name: "second", payload: &models.SessionPayload{UserID: "u"}}
		chain := NewVerifierChain(discardLogger(), first, second)

		payload := chain.Verify(ctx, "token")
		require.NotNil(t, payload)
		assert.Equal(t, "u", payload.UserID)
		assert.Equal(t, 1, first.calls)
	})

	t.Run("definitive rejection stops the chain", func(t *testing.T) {
		first := &stubVerifier{name: "first", err: errors.New("expired")}
		second := &stubVerifier{name: "second", payload: &models.SessionPayload{UserID: "u"}}
		chain := NewVerifierChain(discardLogger(), first, second)

		assert.Nil(t, chain.Verify(ctx, "token"))
		assert.Equal(t, 0, second.calls)
	})

	t.Run("nothing applicable yields nil", func(t *testing.T) {
		chain := NewVerifierChain(discardLogger(), &stubVerifier{name: "only", err: ErrNotApplicable})
		assert.Nil(t, chain.Verify(ctx, strings.Repeat("x", 200)))
	})

	t.Run("empty token", func(t *testing.T) {
		v := &stubVerifier{name: "only"}
		chain := NewVerifierChain(discardLogger(), v)
		assert.Nil(t, chain.Verify(ctx, "   "))
		assert.Equal(t, 0, v.calls)
	})
}

func TestVerifierChain_LongOpaqueStringIsNotAccepted(t *testing.T) {
	tm := NewTokenManager(testSecret, "gatekeeper", time.Hour)
	chain := NewVerifierChain(discardLogger(),
		NewInternalJWTVerifier(tm),
		NewServiceKeyVerifier("svc_", strings.Repeat("k", 32), models.RoleAdmin),
	)

	assert.Nil(t, chain.Verify(context.Background(), strings.Repeat("a", 512)))
}

func TestServiceKeyVerifier(t *testing.T) {
	ctx := context.Background()
	key := strings.Repeat("k", 32)
	v := NewServiceKeyVerifier("svc_", key, models.RoleAdmin)

	payload, err := v.Verify(ctx, "svc_"+key)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, payload.Role)
	assert.Equal(t, models.TokenSourceServiceKey, payload.Source)

	_, err = v.Verify(ctx, "svc_wrong")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = v.Verify(ctx, key)
	assert.ErrorIs(t, err, ErrNotApplicable)

	_, err = NewServiceKeyVerifier("", key, models.RoleAdmin).Verify(ctx, key)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestExtractFromHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer lowercase", "bearer opaque-token", "opaque-token", true},
		{"bare jwt", "abc.def.ghi", "abc.def.ghi", true},
		{"provider prefix", "svc_secretvalue", "svc_secretvalue", true},
		{"prefix only", "svc_", "", false},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", false},
		{"bearer without token", "Bearer ", "", false},
		{"bare opaque", "opaque-token", "", false},
		{"empty", "", "", false},
		{"two segments", "abc.def", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFromHeader(tt.header, "svc_")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoogleIDTokenVerifier(t *testing.T) {
	ctx := context.Background()
	users := &mockUserFinder{
		FindByEmailFunc: func(_ context.Context, email string) (*models.User, error) {
			if email == "a@corp.com" {
				return &models.User{ID: "u1", Email: email, Role: models.RoleUser, Active: true}, nil
			}
			return nil, models.ErrNotFound
		},
	}

	newVerifier := func(info *oauth2.Tokeninfo, err error) *GoogleIDTokenVerifier {
		v := NewGoogleIDTokenVerifier("client-123", users, nil)
		v.tokenInfo = func(context.Context, string) (*oauth2.Tokeninfo, error) { return info, err }
		return v
	}

	t.Run("accepts verified email of active user", func(t *testing.T) {
		v := newVerifier(&oauth2.Tokeninfo{Audience: "client-123", Email: "A@corp.com", VerifiedEmail: true, ExpiresIn: 600}, nil)
		payload, err := v.Verify(ctx, "h.p.s")
		require.NoError(t, err)
		assert.Equal(t, "u1", payload.UserID)
		assert.Equal(t, models.TokenSourceGoogle, payload.Source)
	})

	t.Run("rejects other audience", func(t *testing.T) {
		v := newVerifier(&oauth2.Tokeninfo{Audience: "someone-else", Email: "a@corp.com", VerifiedEmail: true}, nil)
		_, err := v.Verify(ctx, "h.p.s")
		assert.ErrorIs(t, err, ErrInvalidGoogleAudience)
	})

	t.Run("rejects unknown user", func(t *testing.T) {
		v := newVerifier(&oauth2.Tokeninfo{Audience: "client-123", Email: "x@corp.com", VerifiedEmail: true}, nil)
		_, err := v.Verify(ctx, "h.p.s")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("tokeninfo failure is a rejection", func(t *testing.T) {
		v := newVerifier(nil, errors.New("400 invalid_token"))
		_, err := v.Verify(ctx, "h.p.s")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("opaque token not applicable", func(t *testing.T) {
		v := newVerifier(nil, nil)
		_, err := v.Verify(ctx, "opaque")
		assert.ErrorIs(t, err, ErrNotApplicable)
	})
}

func TestIntrospectionVerifier(t *testing.T) {
	ctx := context.Background()
	users := &mockUserFinder{
		FindByEmailFunc: func(_ context.Context, email string) (*models.User, error) {
			return &models.User{ID: "u1", Email: email, Role: models.RoleManager, Active: true}, nil
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "portal" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("token") {
		case "live-token":
			_, _ = w.Write([]byte(`{"active":true,"sub":"abc","email":"m@corp.com","exp":` +
				strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10) + `}`))
		default:
			_, _ = w.Write([]byte(`{"active":false}`))
		}
	}))
	defer server.Close()

	v := NewIntrospectionVerifier(server.URL, "portal", "s3cret", users, server.Client())

	payload, err := v.Verify(ctx, "live-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, models.RoleManager, payload.Role)
	assert.Equal(t, models.TokenSourceIntrospection, payload.Source)

	_, err = v.Verify(ctx, "dead-token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = v.Verify(ctx, "h.p.s")
	assert.ErrorIs(t, err, ErrNotApplicable)

	bad := NewIntrospectionVerifier(server.URL, "portal", "wrong", users, server.Client())
	_, err = bad.Verify(ctx, "live-token")
	assert.ErrorContains(t, err, "401")
}
