package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// introspectionResponse is the subset of RFC 7662 fields we read
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
}

// IntrospectionVerifier checks opaque tokens against an OAuth 2.0 token
// introspection endpoint and maps the subject to an active local user.
type IntrospectionVerifier struct {
	endpoint     string
	clientID     string
	clientSecret string
	users        ActiveUserFinder
	client       *http.Client
	now          func() time.Time
}

// NewIntrospectionVerifier creates an IntrospectionVerifier
func NewIntrospectionVerifier(endpoint, clientID, clientSecret string, users ActiveUserFinder, client *http.Client) *IntrospectionVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &IntrospectionVerifier{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		users:        users,
		client:       client,
		now:          time.Now,
	}
}

func (v *IntrospectionVerifier) Name() string { return models.TokenSourceIntrospection }

func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*models.SessionPayload, error) {
	// JWTs are handled by the signature-based verifiers
	if looksLikeJWT(token) {
		return nil, ErrNotApplicable
	}

	form := url.Values{"token": {token}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if v.clientID != "" {
		req.SetBasicAuth(v.clientID, v.clientSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned %d", resp.StatusCode)
	}

	var body introspectionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}

	if !body.Active {
		return nil, models.ErrUnauthorized
	}

	now := v.now()
	if body.Exp != 0 && now.After(time.Unix(body.Exp, 0)) {
		return nil, fmt.Errorf("introspected token expired")
	}

	user, err := v.resolveUser(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("no active user for introspected subject: %w", err)
	}

	payload := &models.SessionPayload{
		UserID:     user.ID,
		Identifier: user.Identifier(),
		Role:       user.Role,
		IssuedAt:   now,
		Source:     models.TokenSourceIntrospection,
	}
	if body.Iat != 0 {
		payload.IssuedAt = time.Unix(body.Iat, 0)
	}
	if body.Exp != 0 {
		payload.ExpiresAt = time.Unix(body.Exp, 0)
	}
	return payload, nil
}

func (v *IntrospectionVerifier) resolveUser(ctx context.Context, body introspectionResponse) (*models.User, error) {
	for _, candidate := range []string{body.Email, body.Username, body.Subject} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, "@") {
			return v.users.FindByEmail(ctx, strings.ToLower(candidate))
		}
		if strings.HasPrefix(candidate, "+") {
			return v.users.FindByPhone(ctx, candidate)
		}
	}
	return nil, models.ErrNotFound
}
