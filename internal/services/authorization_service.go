package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// How an identifier was authorized
const (
	MethodAdmin  = "admin"
	MethodUser   = "user"
	MethodEmail  = "email"
	MethodPhone  = "phone"
	MethodDomain = "domain"
	MethodInvite = "invite"
)

const (
	inviteAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeLength  = 8
	inviteMaxAttempts = 5
	listLimit         = 500
)

// AuthorizationRequest names the identifiers being checked. Any field may be empty.
type AuthorizationRequest struct {
	Email      string
	Phone      string
	InviteCode string
}

// AuthorizationResult is the outcome of CheckAuthorization
type AuthorizationResult struct {
	Authorized bool                       `json:"authorized"`
	Method     string                     `json:"method,omitempty"`
	Status     string                     `json:"status"`
	Message    string                     `json:"message"`
	Entry      *models.AuthorizationEntry `json:"-"`
}

// AccessRequestResult is the outcome of CreateAccessRequest
type AccessRequestResult struct {
	Success bool                       `json:"success"`
	Message string                     `json:"message"`
	Entry   *models.AuthorizationEntry `json:"entry,omitempty"`
}

// InviteOptions configures a new invite code. Zero values take the configured defaults.
type InviteOptions struct {
	CreatedBy  string
	Notes      string
	ExpiryDays int
	MaxUses    int
}

// Invite is a freshly generated invite code
type Invite struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
}

// GrantRequest creates an active rule for exactly one of Email, Phone or Domain
type GrantRequest struct {
	Email     string
	Phone     string
	Domain    string
	Notes     string
	CreatedBy string
}

// AuthorizationConfig holds the gate settings
type AuthorizationConfig struct {
	Admin            AdminIdentity
	InviteExpiryDays int
	InviteMaxUses    int
}

// AuthorizationService decides who may enter the portal and manages access requests and invites
type AuthorizationService struct {
	entries     AuthorizationRepository
	users       UserRepository
	notifier    DecisionNotifier
	publisher   events.Publisher
	cfg         AuthorizationConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	now       func() time.Time
	inviteGen func() (string, error)
}

// NewAuthorizationService creates a new AuthorizationService
func NewAuthorizationService(entries AuthorizationRepository, users UserRepository, notifier DecisionNotifier, publisher events.Publisher, cfg AuthorizationConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthorizationService {
	if cfg.InviteExpiryDays <= 0 {
		cfg.InviteExpiryDays = 7
	}
	if cfg.InviteMaxUses <= 0 {
		cfg.InviteMaxUses = 1
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &AuthorizationService{
		entries:     entries,
		users:       users,
		notifier:    notifier,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
		inviteGen:   generateInviteCode,
	}
}

// CheckAuthorization applies the gate rules in priority order; the first match wins.
// Using an invite code here consumes one of its uses.
func (s *AuthorizationService) CheckAuthorization(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	email := NormalizeEmail(req.Email)
	phone := NormalizePhone(req.Phone)
	invite := strings.ToUpper(strings.TrimSpace(req.InviteCode))

	if s.cfg.Admin.Matches(email, phone) {
		return authorized(MethodAdmin, "Administrator", nil), nil
	}

	if user, err := s.findActiveUser(ctx, email, phone); err != nil {
		return nil, err
	} else if user != nil {
		return authorized(MethodUser, "Existing user", nil), nil
	}

	entry, err := s.findEntry(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.Status == models.AuthorizationActive {
		return authorized(entry.Kind(), "Authorized", entry), nil
	}

	if domain := models.EmailDomain(email); domain != "" {
		rule, err := s.entries.FindActiveDomain(ctx, domain)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("find domain rule: %w", err)
		}
		if rule != nil {
			return authorized(MethodDomain, "Authorized by domain", rule), nil
		}
	}

	if invite != "" {
		return s.redeemInvite(ctx, invite)
	}

	if entry != nil && entry.Status == models.AuthorizationPending {
		return &AuthorizationResult{
			Status:  models.AuthorizationPending,
			Message: "Your access request is awaiting approval",
			Entry:   entry,
		}, nil
	}

	return &AuthorizationResult{
		Status:  models.AuthorizationRejected,
		Message: "You are not authorized to access this portal",
		Entry:   entry,
	}, nil
}

func authorized(method, message string, entry *models.AuthorizationEntry) *AuthorizationResult {
	return &AuthorizationResult{
		Authorized: true,
		Method:     method,
		Status:     models.AuthorizationActive,
		Message:    message,
		Entry:      entry,
	}
}

func (s *AuthorizationService) redeemInvite(ctx context.Context, code string) (*AuthorizationResult, error) {
	expired := &AuthorizationResult{
		Status:  models.AuthorizationExpired,
		Message: "This invite code is no longer valid",
	}

	entry, err := s.entries.FindByInviteCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return &AuthorizationResult{
			Status:  models.AuthorizationRejected,
			Message: "Invalid invite code",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invite: %w", err)
	}
	expired.Entry = entry

	now := s.now()
	switch {
	case entry.Status != models.AuthorizationActive:
		return expired, nil
	case entry.IsTimeExpired(now):
		if err := s.entries.MarkExpired(ctx, entry.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("expire invite: %w", err)
		}
		return expired, nil
	case entry.IsExhausted():
		return expired, nil
	}

	consumed, err := s.entries.ConsumeInvite(ctx, code, now)
	if errors.Is(err, models.ErrNotFound) {
		// another request took the last use
		return expired, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume invite: %w", err)
	}

	s.logger.Info("invite code redeemed",
		slog.String("entry_id", consumed.ID),
		slog.Int("used_count", consumed.UsedCount))
	return authorized(MethodInvite, "Authorized by invite", consumed), nil
}

func (s *AuthorizationService) findActiveUser(ctx context.Context, email, phone string) (*models.User, error) {
	if email == "" && phone == "" {
		return nil, nil
	}
	user, err := s.users.FindByEmailOrPhone(ctx, email, phone)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// findEntry returns the email or phone entry for the identifiers, preferring
// an active one when both exist
func (s *AuthorizationService) findEntry(ctx context.Context, email, phone string) (*models.AuthorizationEntry, error) {
	var found *models.AuthorizationEntry
	if email != "" {
		entry, err := s.entries.FindByEmail(ctx, email)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("find entry: %w", err)
		}
		if entry != nil && entry.Status == models.AuthorizationActive {
			return entry, nil
		}
		found = entry
	}
	if phone != "" {
		entry, err := s.entries.FindByPhone(ctx, phone)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("find entry: %w", err)
		}
		if entry != nil && (found == nil || entry.Status == models.AuthorizationActive) {
			found = entry
		}
	}
	return found, nil
}

// CreateAccessRequest records a pending request for the identifier. Calling it
// again for an unresolved identifier does not create a second entry.
func (s *AuthorizationService) CreateAccessRequest(ctx context.Context, email, phone, notes string) (*AccessRequestResult, error) {
	email = NormalizeEmail(email)
	phone = NormalizePhone(phone)
	if email == "" && phone == "" {
		return nil, fmt.Errorf("%w: email or phone is required", models.ErrBadRequest)
	}

	existing, err := s.findEntry(ctx, email, phone)
	if err != nil {
		return nil, err
	}

	var noteList []string
	if notes = strings.TrimSpace(notes); notes != "" {
		noteList = []string{notes}
	}

	if existing != nil {
		switch existing.Status {
		case models.AuthorizationActive:
			return &AccessRequestResult{Message: "You are already authorized", Entry: existing}, nil
		case models.AuthorizationPending:
			return &AccessRequestResult{Message: "Your access request is already pending", Entry: existing}, nil
		}

		reopened, err := s.entries.UpdateStatus(ctx, existing.ID, models.AuthorizationPending,
			[]string{models.AuthorizationRejected, models.AuthorizationExpired}, noteList)
		if errors.Is(err, models.ErrInvalidTransition) {
			// raced with another request; report what is stored now
			return &AccessRequestResult{Message: "Your access request is already pending", Entry: existing}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reopen access request: %w", err)
		}
		s.publishRequestCreated(ctx, reopened)
		return &AccessRequestResult{Success: true, Message: "Your access request was resubmitted", Entry: reopened}, nil
	}

	entry := &models.AuthorizationEntry{Status: models.AuthorizationPending, Notes: noteList}
	if email != "" {
		entry.Email = email
	} else {
		entry.Phone = phone
	}

	created, err := s.entries.Create(ctx, entry)
	if errors.Is(err, models.ErrConflict) {
		return &AccessRequestResult{Message: "Your access request is already pending"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create access request: %w", err)
	}

	s.publishRequestCreated(ctx, created)
	return &AccessRequestResult{Success: true, Message: "Your access request was submitted", Entry: created}, nil
}

func (s *AuthorizationService) publishRequestCreated(ctx context.Context, entry *models.AuthorizationEntry) {
	s.logger.Info("access request recorded", slog.String("entry_id", entry.ID), slog.String("kind", entry.Kind()))
	_ = s.publisher.Publish(ctx, events.New(events.AccessRequestCreated, map[string]string{
		"entry_id": entry.ID,
		"kind":     entry.Kind(),
	}))
}

// GenerateInviteCode creates an active invite entry with a fresh unique code
func (s *AuthorizationService) GenerateInviteCode(ctx context.Context, opts InviteOptions) (*Invite, error) {
	if opts.ExpiryDays <= 0 {
		opts.ExpiryDays = s.cfg.InviteExpiryDays
	}
	if opts.MaxUses <= 0 {
		opts.MaxUses = s.cfg.InviteMaxUses
	}

	var code string
	for attempt := 0; attempt < inviteMaxAttempts && code == ""; attempt++ {
		candidate, err := s.inviteGen()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}
		exists, err := s.entries.InviteCodeExists(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("check invite code: %w", err)
		}
		if !exists {
			code = candidate
		}
	}
	if code == "" {
		s.logger.Error("invite code space exhausted", slog.Int("attempts", inviteMaxAttempts))
		return nil, models.ErrInviteCodeExhausted
	}

	expiresAt := s.now().Add(time.Duration(opts.ExpiryDays) * 24 * time.Hour)
	maxUses := opts.MaxUses
	entry := &models.AuthorizationEntry{
		InviteCode: code,
		Status:     models.AuthorizationActive,
		CreatedBy:  opts.CreatedBy,
		ExpiresAt:  &expiresAt,
		MaxUses:    &maxUses,
	}
	if note := strings.TrimSpace(opts.Notes); note != "" {
		entry.Notes = []string{note}
	}

	created, err := s.entries.Create(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("store invite: %w", err)
	}

	s.auditLogger.LogAuthorizationDecision(ctx, "invite_created", created.ID, opts.CreatedBy)
	return &Invite{Code: code, ExpiresAt: expiresAt, MaxUses: maxUses}, nil
}

func generateInviteCode() (string, error) {
	max := big.NewInt(int64(len(inviteAlphabet)))
	buf := make([]byte, inviteCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = inviteAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ApproveRequest activates a pending entry and tells the requester
func (s *AuthorizationService) ApproveRequest(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error) {
	return s.decide(ctx, id, actorID, note, true)
}

// RejectRequest rejects a pending entry and tells the requester
func (s *AuthorizationService) RejectRequest(ctx context.Context, id, actorID, note string) (*models.AuthorizationEntry, error) {
	return s.decide(ctx, id, actorID, note, false)
}

func (s *AuthorizationService) decide(ctx context.Context, id, actorID, note string, approve bool) (*models.AuthorizationEntry, error) {
	status, action, eventType := models.AuthorizationRejected, "access_rejected", events.AccessRequestRejected
	if approve {
		status, action, eventType = models.AuthorizationActive, "access_approved", events.AccessRequestApproved
	}

	var notes []string
	if note = strings.TrimSpace(note); note != "" {
		notes = []string{note}
	}

	entry, err := s.entries.UpdateStatus(ctx, id, status, []string{models.AuthorizationPending}, notes)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthorizationDecision(ctx, action, entry.ID, actorID)
	_ = s.publisher.Publish(ctx, events.New(eventType, map[string]string{
		"entry_id": entry.ID,
		"actor_id": actorID,
	}))

	if identifier, channel := notifyTarget(entry); identifier != "" && s.notifier != nil {
		// the decision stands even if the requester cannot be reached
		_, _ = s.notifier.SendAccessDecision(ctx, identifier, channel, approve)
	}

	return entry, nil
}

func notifyTarget(entry *models.AuthorizationEntry) (string, string) {
	switch {
	case entry.Email != "":
		return entry.Email, models.ChannelEmail
	case entry.Phone != "":
		return entry.Phone, models.ChannelSMS
	}
	return "", ""
}

// ListEntries returns entries in the given status, or all entries when status is empty
func (s *AuthorizationService) ListEntries(ctx context.Context, status string) ([]*models.AuthorizationEntry, error) {
	switch status {
	case "", models.AuthorizationActive, models.AuthorizationPending, models.AuthorizationRejected, models.AuthorizationExpired:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrBadRequest, status)
	}
	return s.entries.ListByStatus(ctx, status, listLimit)
}

// GrantAccess creates an active email, phone or domain rule, or reactivates an
// existing email or phone entry
func (s *AuthorizationService) GrantAccess(ctx context.Context, req GrantRequest) (*models.AuthorizationEntry, error) {
	entry := &models.AuthorizationEntry{
		Email:     NormalizeEmail(req.Email),
		Phone:     NormalizePhone(req.Phone),
		Domain:    strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.Domain)), "@"),
		Status:    models.AuthorizationActive,
		CreatedBy: req.CreatedBy,
	}
	if entry.Kind() == "" {
		return nil, fmt.Errorf("%w: exactly one of email, phone or domain is required", models.ErrBadRequest)
	}
	if note := strings.TrimSpace(req.Notes); note != "" {
		entry.Notes = []string{note}
	}

	if entry.Domain == "" {
		existing, err := s.findEntry(ctx, entry.Email, entry.Phone)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.Status == models.AuthorizationActive {
				return existing, nil
			}
			updated, err := s.entries.UpdateStatus(ctx, existing.ID, models.AuthorizationActive,
				[]string{models.AuthorizationPending, models.AuthorizationRejected, models.AuthorizationExpired}, entry.Notes)
			if err != nil {
				return nil, err
			}
			s.auditLogger.LogAuthorizationDecision(ctx, "access_granted", updated.ID, req.CreatedBy)
			return updated, nil
		}
	}

	created, err := s.entries.Create(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.auditLogger.LogAuthorizationDecision(ctx, "access_granted", created.ID, req.CreatedBy)
	return created, nil
}

// ExpireStaleInvites flips active invites past their expiry or use limit to expired
func (s *AuthorizationService) ExpireStaleInvites(ctx context.Context) (int64, error) {
	return s.entries.ExpireStaleInvites(ctx, s.now())
}
