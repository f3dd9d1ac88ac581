package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

var ErrInvalidGoogleAudience = errors.New("invalid google audience")

// ActiveUserFinder resolves an external identity to an active local user
type ActiveUserFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
}

// TokenInfoFunc fetches Google's view of an ID token
type TokenInfoFunc func(ctx context.Context, idToken string) (*oauth2.Tokeninfo, error)

// GoogleIDTokenVerifier accepts Google-issued ID tokens for our client ID whose
// verified email belongs to an active local user.
type GoogleIDTokenVerifier struct {
	clientID  string
	users     ActiveUserFinder
	tokenInfo TokenInfoFunc
	now       func() time.Time
}

// NewGoogleIDTokenVerifier creates a verifier backed by the Google tokeninfo endpoint
func NewGoogleIDTokenVerifier(clientID string, users ActiveUserFinder, client *http.Client) *GoogleIDTokenVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &GoogleIDTokenVerifier{
		clientID:  clientID,
		users:     users,
		tokenInfo: googleTokenInfo(client),
		now:       time.Now,
	}
}

func googleTokenInfo(client *http.Client) TokenInfoFunc {
	return func(ctx context.Context, idToken string) (*oauth2.Tokeninfo, error) {
		svc, err := oauth2.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		return svc.Tokeninfo().IdToken(idToken).Context(ctx).Do()
	}
}

func (v *GoogleIDTokenVerifier) Name() string { return models.TokenSourceGoogle }

func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, token string) (*models.SessionPayload, error) {
	if !looksLikeJWT(token) {
		return nil, ErrNotApplicable
	}

	info, err := v.tokenInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("google tokeninfo: %w", err)
	}

	if info.Audience != v.clientID {
		return nil, ErrInvalidGoogleAudience
	}
	if info.Email == "" || !info.VerifiedEmail {
		return nil, fmt.Errorf("google token has no verified email")
	}

	user, err := v.users.FindByEmail(ctx, strings.ToLower(info.Email))
	if err != nil {
		return nil, fmt.Errorf("no active user for google identity: %w", err)
	}

	now := v.now()
	return &models.SessionPayload{
		UserID:     user.ID,
		Identifier: user.Identifier(),
		Role:       user.Role,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Duration(info.ExpiresIn) * time.Second),
		Source:     models.TokenSourceGoogle,
	}, nil
}
