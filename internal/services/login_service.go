package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

const msgInvalidCredentials = "Invalid credentials"

// AccessGate is the part of the authorization gate the login flow needs
type AccessGate interface {
	CheckAuthorization(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error)
	CreateAccessRequest(ctx context.Context, email, phone, notes string) (*AccessRequestResult, error)
}

// LoginIdentity is what a client submits to start or finish a code login
type LoginIdentity struct {
	Email      string
	Phone      string
	InviteCode string
}

// RegistrationRequest finishes sign-up for an identifier that proved a code
type RegistrationRequest struct {
	Email      string
	Phone      string
	Code       string
	InviteCode string
	Name       string
	Password   string
}

// LoginConfig holds the lockout and admin settings of the login flow
type LoginConfig struct {
	Admin            AdminIdentity
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// LoginService drives the login state machine. Every operation returns a
// LoginResult; expected failures are statuses, store failures are INTERNAL_ERROR.
type LoginService struct {
	users       UserRepository
	gate        AccessGate
	codes       CodeRegistry
	sender      CodeSender
	tokens      TokenIssuer
	hasher      PasswordHasher
	delay       *auth.TimingDelay
	publisher   events.Publisher
	cfg         LoginConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	now func() time.Time
}

// NewLoginService creates a new LoginService
func NewLoginService(
	users UserRepository,
	gate AccessGate,
	codes CodeRegistry,
	sender CodeSender,
	tokens TokenIssuer,
	hasher PasswordHasher,
	delay *auth.TimingDelay,
	publisher events.Publisher,
	cfg LoginConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *LoginService {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &LoginService{
		users:       users,
		gate:        gate,
		codes:       codes,
		sender:      sender,
		tokens:      tokens,
		hasher:      hasher,
		delay:       delay,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

func result(status models.LoginStatus, message string) *models.LoginResult {
	return &models.LoginResult{Status: status, Message: message}
}

func (s *LoginService) internalError(op string, err error) *models.LoginResult {
	s.logger.Error("login flow failed", slog.String("operation", op), slog.Any("error", err))
	return result(models.StatusInternalError, "Something went wrong. Please try again later.")
}

// normalizeIdentity cleans the identifiers and reports whether they are usable
func normalizeIdentity(email, phone string) (string, string, bool) {
	email = NormalizeEmail(email)
	phone = NormalizePhone(phone)
	if email == "" && phone == "" {
		return "", "", false
	}
	if email != "" && !validEmail(email) {
		return "", "", false
	}
	if phone != "" && !validPhone(phone) {
		return "", "", false
	}
	return email, phone, true
}

// resolveAccount finds a user in any state, by email first and then by phone
func (s *LoginService) resolveAccount(ctx context.Context, email, phone string) (*models.User, error) {
	if email != "" {
		user, err := s.users.FindAccountByEmail(ctx, email)
		if err == nil || !errors.Is(err, models.ErrNotFound) {
			return user, err
		}
	}
	if phone != "" {
		user, err := s.users.FindAccountByPhone(ctx, phone)
		if err == nil || !errors.Is(err, models.ErrNotFound) {
			return user, err
		}
	}
	return nil, nil
}

// codeTarget picks where a code goes: email when the client named an email the
// account has, SMS otherwise
func codeTarget(user *models.User, email string) (identifier, channel string) {
	if email != "" && user.Email == email {
		return user.Email, models.ChannelEmail
	}
	if user.Phone != "" {
		return user.Phone, models.ChannelSMS
	}
	return user.Email, models.ChannelEmail
}

// blocked reports whether the account was switched off by an administrator.
// Provisional accounts are inactive only until their first code goes out.
func blocked(user *models.User) bool {
	return !user.Active && !user.Provisional
}

// InitiateLogin decides the next step for an identifier: password, code, or no entry
func (s *LoginService) InitiateLogin(ctx context.Context, id LoginIdentity) *models.LoginResult {
	email, phone, ok := normalizeIdentity(id.Email, id.Phone)
	if !ok {
		return result(models.StatusInvalidInput, "A valid email address or phone number is required")
	}

	if s.cfg.Admin.Matches(email, phone) {
		return &models.LoginResult{Status: models.StatusHasPassword, Message: "Enter your password"}
	}

	user, err := s.resolveAccount(ctx, email, phone)
	if err != nil {
		return s.internalError("initiate: resolve user", err)
	}

	if user != nil {
		if blocked(user) {
			return s.inactive(ctx, user)
		}
		if user.HasPassword() {
			return &models.LoginResult{Status: models.StatusHasPassword, Message: "Enter your password"}
		}
		return s.dispatchCode(ctx, user, email)
	}

	decision, err := s.gate.CheckAuthorization(ctx, AuthorizationRequest{Email: email, Phone: phone, InviteCode: id.InviteCode})
	if err != nil {
		return s.internalError("initiate: check authorization", err)
	}

	if !decision.Authorized {
		return s.denied(ctx, decision, email, phone)
	}

	user, err = s.users.CreateProvisional(ctx, email, phone, models.RoleUser)
	if errors.Is(err, models.ErrConflict) {
		// a concurrent request created the account first
		user, err = s.resolveAccount(ctx, email, phone)
		if err == nil && user == nil {
			err = models.ErrNotFound
		}
	}
	if err != nil {
		return s.internalError("initiate: create provisional user", err)
	}

	s.logger.Info("provisional user created",
		slog.String("user_id", user.ID),
		slog.String("method", decision.Method))
	return s.dispatchCode(ctx, user, email)
}

func (s *LoginService) denied(ctx context.Context, decision *AuthorizationResult, email, phone string) *models.LoginResult {
	if decision.Status == models.AuthorizationPending {
		return result(models.StatusUnauthorizedPending, "Your access request is awaiting approval")
	}

	req, err := s.gate.CreateAccessRequest(ctx, email, phone, "")
	if err != nil {
		return s.internalError("initiate: create access request", err)
	}
	if !req.Success && req.Entry != nil && req.Entry.Status == models.AuthorizationPending {
		return result(models.StatusUnauthorizedPending, "Your access request is awaiting approval")
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "login_unauthorized",
		Identifier:    firstNonEmpty(email, phone),
		FailureReason: decision.Status,
	})
	return result(models.StatusUnauthorizedRejected,
		"You do not have access yet. A request has been sent to an administrator.")
}

func (s *LoginService) inactive(ctx context.Context, user *models.User) *models.LoginResult {
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        user.ID,
		FailureReason: "inactive",
	})
	return result(models.StatusInactive, "This account has been deactivated")
}

// dispatchCode registers a fresh code and sends it. A failed send keeps the
// registered code; the next attempt overwrites it.
func (s *LoginService) dispatchCode(ctx context.Context, user *models.User, email string) *models.LoginResult {
	identifier, channel := codeTarget(user, email)

	issued, err := s.codes.Register(ctx, identifier, channel)
	if err != nil {
		return s.internalError("initiate: register code", err)
	}

	if err := s.users.SetOneTimeCode(ctx, user.ID, hashCode(issued.Code), issued.ExpiresAt); err != nil {
		return s.internalError("initiate: store code", err)
	}

	delivery, err := s.sender.SendCode(ctx, identifier, issued.Code, channel)
	if err != nil {
		message := "We could not deliver your code. Please try again."
		if delivery != nil && delivery.Message != "" {
			message = delivery.Message
		}
		return &models.LoginResult{Status: models.StatusDeliveryFailed, Message: message, Channel: channel}
	}

	entry := models.NewHistoryEntry(models.HistoryCodeSent, channel)
	if user.Active {
		err = s.users.AppendHistory(ctx, user.ID, entry)
	} else {
		err = s.users.Activate(ctx, user.ID, entry)
	}
	if err != nil {
		return s.internalError("initiate: record code dispatch", err)
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:  "login_code_sent",
		UserID:     user.ID,
		Identifier: identifier,
		Success:    true,
		Metadata:   map[string]string{"channel": channel},
	})

	expires := issued.ExpiresAt
	return &models.LoginResult{
		Status:        models.StatusNeedsCode,
		Message:       delivery.Message,
		Channel:       channel,
		CodeExpiresAt: &expires,
		PreviewURL:    delivery.PreviewURL,
	}
}

// CompleteLogin exchanges a one-time code for a session token
func (s *LoginService) CompleteLogin(ctx context.Context, id LoginIdentity, code string) *models.LoginResult {
	email, phone, ok := normalizeIdentity(id.Email, id.Phone)
	code = strings.TrimSpace(code)
	if !ok || code == "" {
		return result(models.StatusInvalidInput, "An identifier and a code are required")
	}

	user, err := s.resolveAccount(ctx, email, phone)
	if err != nil {
		return s.internalError("complete: resolve user", err)
	}

	if user == nil {
		decision, err := s.gate.CheckAuthorization(ctx, AuthorizationRequest{Email: email, Phone: phone})
		if err != nil {
			return s.internalError("complete: check authorization", err)
		}
		if decision.Authorized || strings.TrimSpace(id.InviteCode) != "" {
			return s.registrationCode(ctx, email, phone)
		}
		if decision.Status == models.AuthorizationPending {
			return result(models.StatusUnauthorizedPending, "Your access request is awaiting approval")
		}
		return result(models.StatusUnauthorizedRejected, "You are not authorized to access this portal")
	}

	if blocked(user) {
		return s.inactive(ctx, user)
	}

	identifier, channel := codeTarget(user, email)
	if !s.codes.Verify(ctx, identifier, code, channel) {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_code_failed",
			UserID:        user.ID,
			Identifier:    identifier,
			FailureReason: "invalid_code",
		})
		return result(models.StatusInvalidCode, "Invalid or expired code")
	}

	if err := s.users.ClearOneTimeCode(ctx, user.ID, models.NewHistoryEntry(models.HistoryLoginCode, channel)); err != nil {
		return s.internalError("complete: clear code", err)
	}
	user.Provisional = false
	user.Active = true

	res := s.authenticated(ctx, user, "login_code")
	if res.Status == models.StatusAuthenticated {
		res.RequiresPassword = !user.HasPassword()
	}
	return res
}

// registrationTarget is where the code of an identifier without an account goes
func registrationTarget(email, phone string) (identifier, channel string) {
	if email != "" {
		return email, models.ChannelEmail
	}
	return phone, models.ChannelSMS
}

// registrationCode sends the code that CompleteRegistration will ask for when
// the identifier has no account to carry one
func (s *LoginService) registrationCode(ctx context.Context, email, phone string) *models.LoginResult {
	identifier, channel := registrationTarget(email, phone)

	issued, err := s.codes.Register(ctx, identifier, channel)
	if err != nil {
		return s.internalError("complete: register code", err)
	}

	delivery, err := s.sender.SendCode(ctx, identifier, issued.Code, channel)
	if err != nil {
		message := "We could not deliver your registration code. Please try again."
		if delivery != nil && delivery.Message != "" {
			message = delivery.Message
		}
		return &models.LoginResult{Status: models.StatusDeliveryFailed, Message: message, Channel: channel}
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:  "registration_code_sent",
		Identifier: identifier,
		Success:    true,
		Metadata:   map[string]string{"channel": channel},
	})

	expires := issued.ExpiresAt
	return &models.LoginResult{
		Status:        models.StatusNeedsRegistration,
		Message:       "Please finish creating your account with the code we just sent",
		Channel:       channel,
		CodeExpiresAt: &expires,
		PreviewURL:    delivery.PreviewURL,
	}
}

// authenticated issues a token for the user and builds the success result
func (s *LoginService) authenticated(ctx context.Context, user *models.User, eventType string) *models.LoginResult {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return s.internalError("issue token", err)
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:  eventType,
		UserID:     user.ID,
		Identifier: user.Identifier(),
		Success:    true,
	})

	return &models.LoginResult{
		Status:         models.StatusAuthenticated,
		Message:        "Signed in",
		Token:          token,
		TokenExpiresAt: &expiresAt,
		User:           models.Summarize(user),
	}
}

// LoginWithPassword authenticates an email or phone with a password. Failures
// are padded so unknown accounts and wrong passwords answer alike.
func (s *LoginService) LoginWithPassword(ctx context.Context, identifier, password string) *models.LoginResult {
	start := time.Now()

	email, phone := SplitIdentifier(identifier)
	if _, _, ok := normalizeIdentity(email, phone); !ok || password == "" {
		return result(models.StatusInvalidInput, "An identifier and a password are required")
	}

	if s.cfg.Admin.Matches(email, phone) && s.cfg.Admin.Password != "" &&
		subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Admin.Password)) == 1 {
		return s.adminLogin(ctx, start)
	}

	user, err := s.resolveAccount(ctx, email, phone)
	if err != nil {
		return s.internalError("password: resolve user", err)
	}

	if user == nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_failed",
			Identifier:    firstNonEmpty(email, phone),
			FailureReason: "not_found",
		})
		s.delay.WaitFrom(ctx, start, false)
		return result(models.StatusNotFound, msgInvalidCredentials)
	}

	if !user.HasPassword() {
		s.delay.WaitFrom(ctx, start, false)
		return result(models.StatusNoPasswordSet, "No password is set for this account. Sign in with a code instead.")
	}

	if blocked(user) {
		s.delay.WaitFrom(ctx, start, false)
		return s.inactive(ctx, user)
	}

	now := s.now()
	if user.IsLocked(now) {
		s.delay.WaitFrom(ctx, start, false)
		return s.locked(*user.LockedUntil, now)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		res := s.recordFailure(ctx, user)
		s.delay.WaitFrom(ctx, start, false)
		return res
	}

	if err := s.users.RecordSuccessfulLogin(ctx, user.ID, models.NewHistoryEntry(models.HistoryLogin, "password")); err != nil {
		if errors.Is(err, models.ErrAccountLocked) {
			res := s.lockedSince(ctx, user.ID)
			s.delay.WaitFrom(ctx, start, false)
			return res
		}
		return s.internalError("password: record login", err)
	}

	res := s.authenticated(ctx, user, "login_success")
	s.delay.WaitFrom(ctx, start, true)
	return res
}

func (s *LoginService) recordFailure(ctx context.Context, user *models.User) *models.LoginResult {
	attempts, lockedUntil, err := s.users.RecordFailedLogin(ctx, user.ID, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration)
	if errors.Is(err, models.ErrAccountLocked) {
		return s.lockedSince(ctx, user.ID)
	}
	if err != nil {
		return s.internalError("password: record failure", err)
	}

	if lockedUntil != nil {
		s.logger.Warn("account locked", slog.String("user_id", user.ID), slog.Time("locked_until", *lockedUntil))
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "account_locked",
			UserID:        user.ID,
			FailureReason: "too_many_attempts",
		})
		_ = s.publisher.Publish(ctx, events.New(events.AccountLocked, map[string]string{
			"user_id":      user.ID,
			"locked_until": lockedUntil.UTC().Format(time.RFC3339),
		}))
		res := s.locked(*lockedUntil, s.now())
		res.Attempts = attempts
		return res
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        user.ID,
		FailureReason: "wrong_password",
	})
	return &models.LoginResult{
		Status:      models.StatusWrongPassword,
		Message:     msgInvalidCredentials,
		Attempts:    attempts,
		MaxAttempts: s.cfg.MaxLoginAttempts,
	}
}

// lockedSince reports the lock another request applied after this one read
// the user row
func (s *LoginService) lockedSince(ctx context.Context, userID string) *models.LoginResult {
	current, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return s.internalError("password: reload locked user", err)
	}
	now := s.now()
	if !current.IsLocked(now) {
		return s.internalError("password: reload locked user", models.ErrAccountLocked)
	}
	return s.locked(*current.LockedUntil, now)
}

func (s *LoginService) locked(until, now time.Time) *models.LoginResult {
	minutes := int(math.Ceil(until.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return &models.LoginResult{
		Status:           models.StatusLocked,
		Message:          fmt.Sprintf("Too many failed attempts. Try again in %d minute(s).", minutes),
		LockExpires:      &until,
		RemainingMinutes: minutes,
		MaxAttempts:      s.cfg.MaxLoginAttempts,
	}
}

// adminLogin signs in the configured administrator, creating or repairing the
// admin record on first use
func (s *LoginService) adminLogin(ctx context.Context, start time.Time) *models.LoginResult {
	admin := s.cfg.Admin

	user, err := s.resolveAccount(ctx, admin.Email, admin.Phone)
	if err != nil {
		return s.internalError("admin: resolve user", err)
	}

	if user == nil || !user.Active || user.Role != models.RoleAdmin {
		hash, err := s.hasher.Hash(admin.Password)
		if err != nil {
			return s.internalError("admin: hash password", err)
		}
		user, err = s.users.UpsertAdmin(ctx, admin.Email, admin.Phone, hash)
		if err != nil {
			return s.internalError("admin: upsert", err)
		}
		s.logger.Info("administrator record bootstrapped", slog.String("user_id", user.ID))
	}

	// the configured admin password bypasses a lock left by stored-hash failures
	entry := models.NewHistoryEntry(models.HistoryLogin, "admin")
	err = s.users.RecordSuccessfulLogin(ctx, user.ID, entry)
	if errors.Is(err, models.ErrAccountLocked) {
		err = s.users.AppendHistory(ctx, user.ID, entry)
	}
	if err != nil {
		return s.internalError("admin: record login", err)
	}

	res := s.authenticated(ctx, user, "admin_login")
	s.delay.WaitFrom(ctx, start, true)
	return res
}

// CompleteRegistration proves a code and sets the name and first password of
// the account, creating it when the identifier has none yet
func (s *LoginService) CompleteRegistration(ctx context.Context, req RegistrationRequest) *models.LoginResult {
	email, phone, ok := normalizeIdentity(req.Email, req.Phone)
	code := strings.TrimSpace(req.Code)
	name := strings.TrimSpace(req.Name)
	if !ok || code == "" || name == "" {
		return result(models.StatusInvalidInput, "Identifier, code and name are required")
	}
	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		return result(models.StatusInvalidInput, err.Error())
	}

	user, err := s.resolveAccount(ctx, email, phone)
	if err != nil {
		return s.internalError("register: resolve user", err)
	}

	var identifier, channel string
	switch {
	case user != nil && blocked(user):
		return s.inactive(ctx, user)
	case user != nil && user.HasPassword():
		return result(models.StatusHasPassword, "This account is already registered. Sign in with your password.")
	case user != nil:
		identifier, channel = codeTarget(user, email)
	default:
		identifier, channel = registrationTarget(email, phone)
	}

	if !s.codes.Verify(ctx, identifier, code, channel) {
		return result(models.StatusInvalidCode, "Invalid or expired code")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return s.internalError("register: hash password", err)
	}
	history := models.NewHistoryEntry(models.HistoryRegistered, channel)

	if user != nil {
		user, err = s.users.FinishRegistration(ctx, user.ID, name, hash, history)
		if err != nil {
			return s.internalError("register: finish", err)
		}
		return s.authenticated(ctx, user, "registration")
	}

	decision, err := s.gate.CheckAuthorization(ctx, AuthorizationRequest{Email: email, Phone: phone, InviteCode: req.InviteCode})
	if err != nil {
		return s.internalError("register: check authorization", err)
	}
	if !decision.Authorized {
		if decision.Status == models.AuthorizationPending {
			return result(models.StatusUnauthorizedPending, "Your access request is awaiting approval")
		}
		return result(models.StatusUnauthorizedRejected, "You are not authorized to access this portal")
	}

	now := s.now()
	user, err = s.users.Create(ctx, &models.User{
		Email:             email,
		Phone:             phone,
		Name:              name,
		Role:              models.RoleUser,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
		Active:            true,
		AccessHistory:     models.AccessHistory{history},
	})
	if err != nil {
		return s.internalError("register: create user", err)
	}
	return s.authenticated(ctx, user, "registration")
}

// SetPassword sets or changes the password of a signed-in user. The current
// password is required once one exists.
func (s *LoginService) SetPassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %s", models.ErrBadRequest, err.Error())
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Active {
		return models.ErrForbidden
	}
	if user.HasPassword() {
		if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
			return models.ErrUnauthorized
		}
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPassword(ctx, userID, hash, models.NewHistoryEntry(models.HistoryPasswordSet, "")); err != nil {
		return err
	}

	s.auditLogger.LogAccountAction(ctx, "password_set", userID, nil)
	return nil
}

// Me returns the client view of a signed-in user
func (s *LoginService) Me(ctx context.Context, userID string) (*models.UserSummary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return models.Summarize(user), nil
}

// hashCode is the form a code takes on the user row; the registry keeps the
// value used for verification
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
