package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/gatekeeper/internal/events"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// MemoryUserRepository implements UserRepository in memory for testing.
// Setting Err makes every call fail with it.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
	Err   error
	Now   func() time.Time
}

// NewMemoryUserRepository creates an empty MemoryUserRepository
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[string]*models.User{}, Now: time.Now}
}

// Add stores a copy of user, assigning an id when missing, and returns the stored id
func (m *MemoryUserRepository) Add(user *models.User) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	u := *user
	m.users[u.ID] = &u
	return u.ID
}

// Get returns a copy of the stored user
func (m *MemoryUserRepository) Get(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	c := *u
	return &c
}

// Count returns the number of stored users
func (m *MemoryUserRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *MemoryUserRepository) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryUserRepository) update(id string, fn func(*models.User)) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = m.Now()
	c := *u
	return &c, nil
}

func (m *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Active && u.Email != "" && u.Email == email })
}

func (m *MemoryUserRepository) FindByPhone(_ context.Context, phone string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Active && u.Phone != "" && u.Phone == phone })
}

func (m *MemoryUserRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) (*models.User, error) {
	if email != "" {
		if u, err := m.FindByEmail(ctx, email); !errors.Is(err, models.ErrNotFound) {
			return u, err
		}
	}
	if phone != "" {
		return m.FindByPhone(ctx, phone)
	}
	return nil, models.ErrNotFound
}

func (m *MemoryUserRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *MemoryUserRepository) FindAccountByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email != "" && u.Email == email })
}

func (m *MemoryUserRepository) FindAccountByPhone(_ context.Context, phone string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Phone != "" && u.Phone == phone })
}

func (m *MemoryUserRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if (user.Email != "" && u.Email == user.Email) || (user.Phone != "" && u.Phone == user.Phone) {
			return nil, models.ErrConflict
		}
	}

	c := *user
	c.ID = uuid.New().String()
	c.CreatedAt = m.Now()
	c.UpdatedAt = c.CreatedAt
	m.users[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MemoryUserRepository) CreateProvisional(ctx context.Context, email, phone, role string) (*models.User, error) {
	return m.Create(ctx, &models.User{Email: email, Phone: phone, Role: role, Provisional: true})
}

func (m *MemoryUserRepository) Activate(_ context.Context, id string, entry models.HistoryEntry) error {
	_, err := m.update(id, func(u *models.User) {
		u.Active = true
		u.AccessHistory = append(u.AccessHistory, entry)
	})
	return err
}

func (m *MemoryUserRepository) SetActive(_ context.Context, id string, active bool, entry models.HistoryEntry) (*models.User, error) {
	return m.update(id, func(u *models.User) {
		u.Active = active
		u.Provisional = false
		u.AccessHistory = append(u.AccessHistory, entry)
	})
}

func (m *MemoryUserRepository) SetRole(_ context.Context, id, role string, entry models.HistoryEntry) (*models.User, error) {
	return m.update(id, func(u *models.User) {
		u.Role = role
		u.AccessHistory = append(u.AccessHistory, entry)
	})
}

func (m *MemoryUserRepository) SetPassword(_ context.Context, id, passwordHash string, entry models.HistoryEntry) error {
	_, err := m.update(id, func(u *models.User) {
		now := m.Now()
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &now
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.AccessHistory = append(u.AccessHistory, entry)
	})
	return err
}

func (m *MemoryUserRepository) SetOneTimeCode(_ context.Context, id, code string, expiresAt time.Time) error {
	_, err := m.update(id, func(u *models.User) {
		u.OneTimeCode = code
		u.OneTimeCodeExpiresAt = &expiresAt
	})
	return err
}

func (m *MemoryUserRepository) ClearOneTimeCode(_ context.Context, id string, entry models.HistoryEntry) error {
	_, err := m.update(id, func(u *models.User) {
		u.OneTimeCode = ""
		u.OneTimeCodeExpiresAt = nil
		u.Active = u.Active || u.Provisional
		u.Provisional = false
		u.AccessHistory = append(u.AccessHistory, entry)
	})
	return err
}

func (m *MemoryUserRepository) FinishRegistration(_ context.Context, id, name, passwordHash string, entry models.HistoryEntry) (*models.User, error) {
	return m.update(id, func(u *models.User) {
		now := m.Now()
		u.Name = name
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &now
		u.Active = true
		u.Provisional = false
		u.OneTimeCode = ""
		u.OneTimeCodeExpiresAt = nil
		u.AccessHistory = append(u.AccessHistory, entry)
	})
}

func (m *MemoryUserRepository) AppendHistory(_ context.Context, id string, entry models.HistoryEntry) error {
	_, err := m.update(id, func(u *models.User) {
		u.AccessHistory = append(u.AccessHistory, entry)
	})
	return err
}

// unlocked fails with ErrAccountLocked while the user's lock is active
func (m *MemoryUserRepository) unlocked(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.IsLocked(m.Now()) {
		return models.ErrAccountLocked
	}
	return nil
}

func (m *MemoryUserRepository) RecordFailedLogin(_ context.Context, id string, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	if err := m.unlocked(id); err != nil {
		return 0, nil, err
	}
	var attempts int
	var lockedUntil *time.Time
	_, err := m.update(id, func(u *models.User) {
		u.FailedLoginAttempts++
		attempts = u.FailedLoginAttempts
		if u.FailedLoginAttempts >= maxAttempts {
			until := m.Now().Add(lockFor)
			u.FailedLoginAttempts = 0
			u.LockedUntil = &until
			lockedUntil = &until
			u.AccessHistory = append(u.AccessHistory, models.NewHistoryEntry(models.HistoryAccountLocked, ""))
			return
		}
		u.AccessHistory = append(u.AccessHistory, models.NewHistoryEntry(models.HistoryLoginFailed, ""))
	})
	return attempts, lockedUntil, err
}

func (m *MemoryUserRepository) RecordSuccessfulLogin(_ context.Context, id string, entry models.HistoryEntry) error {
	if err := m.unlocked(id); err != nil {
		return err
	}
	_, err := m.update(id, func(u *models.User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		u.AccessHistory = append(u.AccessHistory, entry)
	})
	return err
}

func (m *MemoryUserRepository) UpsertAdmin(ctx context.Context, email, phone, passwordHash string) (*models.User, error) {
	existing, err := m.find(func(u *models.User) bool {
		return (email != "" && u.Email == email) || (phone != "" && u.Phone == phone)
	})
	if errors.Is(err, models.ErrNotFound) {
		return m.Create(ctx, &models.User{
			Email: email, Phone: phone, Name: "Administrator", Role: models.RoleAdmin,
			PasswordHash: passwordHash, Active: true,
		})
	}
	if err != nil {
		return nil, err
	}
	return m.update(existing.ID, func(u *models.User) {
		u.Role = models.RoleAdmin
		u.Active = true
		u.Provisional = false
		if u.PasswordHash == "" {
			u.PasswordHash = passwordHash
		}
	})
}

// MemoryAuthorizationRepository implements AuthorizationRepository in memory for testing
type MemoryAuthorizationRepository struct {
	mu      sync.Mutex
	entries map[string]*models.AuthorizationEntry
	Err     error
	// ExistingCodes makes InviteCodeExists report true for these codes
	ExistingCodes map[string]bool
}

// NewMemoryAuthorizationRepository creates an empty MemoryAuthorizationRepository
func NewMemoryAuthorizationRepository() *MemoryAuthorizationRepository {
	return &MemoryAuthorizationRepository{entries: map[string]*models.AuthorizationEntry{}}
}

// Add stores a copy of entry and returns its id
func (m *MemoryAuthorizationRepository) Add(entry *models.AuthorizationEntry) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	e := *entry
	m.entries[e.ID] = &e
	return e.ID
}

// All returns copies of every stored entry
func (m *MemoryAuthorizationRepository) All() []*models.AuthorizationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuthorizationEntry, 0, len(m.entries))
	for _, e := range m.entries {
		c := *e
		out = append(out, &c)
	}
	return out
}

func (m *MemoryAuthorizationRepository) find(match func(*models.AuthorizationEntry) bool) (*models.AuthorizationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, e := range m.entries {
		if match(e) {
			c := *e
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryAuthorizationRepository) FindByEmail(_ context.Context, email string) (*models.AuthorizationEntry, error) {
	return m.find(func(e *models.AuthorizationEntry) bool { return e.Email != "" && e.Email == email })
}

func (m *MemoryAuthorizationRepository) FindByPhone(_ context.Context, phone string) (*models.AuthorizationEntry, error) {
	return m.find(func(e *models.AuthorizationEntry) bool { return e.Phone != "" && e.Phone == phone })
}

func (m *MemoryAuthorizationRepository) FindActiveDomain(_ context.Context, domain string) (*models.AuthorizationEntry, error) {
	return m.find(func(e *models.AuthorizationEntry) bool {
		return e.Domain != "" && e.Domain == domain && e.Status == models.AuthorizationActive
	})
}

func (m *MemoryAuthorizationRepository) FindByInviteCode(_ context.Context, code string) (*models.AuthorizationEntry, error) {
	return m.find(func(e *models.AuthorizationEntry) bool { return e.InviteCode != "" && e.InviteCode == code })
}

func (m *MemoryAuthorizationRepository) FindByID(_ context.Context, id string) (*models.AuthorizationEntry, error) {
	return m.find(func(e *models.AuthorizationEntry) bool { return e.ID == id })
}

func (m *MemoryAuthorizationRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	if m.ExistingCodes[code] {
		return true, nil
	}
	_, err := m.FindByInviteCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *MemoryAuthorizationRepository) ListByStatus(_ context.Context, status string, limit int) ([]*models.AuthorizationEntry, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.AuthorizationEntry
	for _, e := range m.All() {
		if (status == "" || e.Status == status) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryAuthorizationRepository) Create(_ context.Context, entry *models.AuthorizationEntry) (*models.AuthorizationEntry, error) {
	if entry.Kind() == "" {
		return nil, models.ErrBadRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, e := range m.entries {
		if e.Kind() == entry.Kind() && e.Subject() == entry.Subject() {
			return nil, models.ErrConflict
		}
	}
	c := *entry
	c.ID = uuid.New().String()
	if c.Notes == nil {
		c.Notes = []string{}
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.entries[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MemoryAuthorizationRepository) UpdateStatus(_ context.Context, id, status string, from []string, notes []string) (*models.AuthorizationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		allowed = allowed || e.Status == f
	}
	if !allowed {
		return nil, models.ErrInvalidTransition
	}
	e.Status = status
	e.Notes = append(e.Notes, notes...)
	e.UpdatedAt = time.Now()
	c := *e
	return &c, nil
}

func (m *MemoryAuthorizationRepository) ConsumeInvite(_ context.Context, code string, now time.Time) (*models.AuthorizationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, e := range m.entries {
		if e.InviteCode != code || e.Status != models.AuthorizationActive || e.IsTimeExpired(now) || e.IsExhausted() {
			continue
		}
		e.UsedCount++
		if e.IsExhausted() {
			e.Status = models.AuthorizationExpired
		}
		c := *e
		return &c, nil
	}
	return nil, models.ErrNotFound
}

func (m *MemoryAuthorizationRepository) MarkExpired(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return models.ErrNotFound
	}
	e.Status = models.AuthorizationExpired
	return nil
}

func (m *MemoryAuthorizationRepository) ExpireStaleInvites(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.InviteCode != "" && e.Status == models.AuthorizationActive && (e.IsTimeExpired(now) || e.IsExhausted()) {
			e.Status = models.AuthorizationExpired
			n++
		}
	}
	return n, nil
}

// MockCodeSender implements CodeSender and DecisionNotifier for testing
type MockCodeSender struct {
	mu                     sync.Mutex
	Sent                   []SentCode
	Decisions              []bool
	SendCodeFunc           func(ctx context.Context, identifier, code, channel string) (*DeliveryResult, error)
	SendAccessDecisionFunc func(ctx context.Context, identifier, channel string, approved bool) (*DeliveryResult, error)
}

// SentCode records one SendCode call
type SentCode struct {
	Identifier string
	Code       string
	Channel    string
}

func (m *MockCodeSender) SendCode(ctx context.Context, identifier, code, channel string) (*DeliveryResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, SentCode{Identifier: identifier, Code: code, Channel: channel})
	m.mu.Unlock()
	if m.SendCodeFunc != nil {
		return m.SendCodeFunc(ctx, identifier, code, channel)
	}
	return &DeliveryResult{Success: true, Message: "sent"}, nil
}

func (m *MockCodeSender) SendAccessDecision(ctx context.Context, identifier, channel string, approved bool) (*DeliveryResult, error) {
	m.mu.Lock()
	m.Decisions = append(m.Decisions, approved)
	m.mu.Unlock()
	if m.SendAccessDecisionFunc != nil {
		return m.SendAccessDecisionFunc(ctx, identifier, channel, approved)
	}
	return &DeliveryResult{Success: true}, nil
}

// LastCode returns the most recently sent code
func (m *MockCodeSender) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return ""
	}
	return m.Sent[len(m.Sent)-1].Code
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	IssueFunc func(user *models.User) (string, time.Time, error)
}

func (m *MockTokenIssuer) Issue(user *models.User) (string, time.Time, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(user)
	}
	return "token-" + user.ID, time.Now().Add(24 * time.Hour), nil
}

// PlainHasher implements PasswordHasher without bcrypt so tests stay fast
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (PlainHasher) Compare(hashedPassword, password string) error {
	if hashedPassword != "plain:"+password {
		return errors.New("password mismatch")
	}
	return nil
}

// GatedHasher is a PlainHasher whose Compare stalls for one password until
// Release is closed, so tests can interleave other requests with it
type GatedHasher struct {
	PlainHasher
	Password string
	Entered  chan struct{}
	Release  chan struct{}
}

// NewGatedHasher creates a GatedHasher that stalls on password
func NewGatedHasher(password string) *GatedHasher {
	return &GatedHasher{Password: password, Entered: make(chan struct{}, 1), Release: make(chan struct{})}
}

func (g *GatedHasher) Compare(hashedPassword, password string) error {
	if password == g.Password {
		g.Entered <- struct{}{}
		<-g.Release
	}
	return g.PlainHasher.Compare(hashedPassword, password)
}

// RecordingPublisher implements events.Publisher and keeps every event
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []events.Event
}

func (p *RecordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
	return nil
}

// Types returns the types of the recorded events in order
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Events))
	for i, e := range p.Events {
		out[i] = e.Type
	}
	return out
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestAuditLogger returns an audit logger that discards output
func NewTestAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(NewTestLogger())
}
