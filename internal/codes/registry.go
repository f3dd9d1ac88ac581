package codes

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// ErrNoEntry is returned by a Store when there is no live entry to consume
var ErrNoEntry = errors.New("no verification code entry")

// Entry is one issued verification code
type Entry struct {
	Code       string    `json:"code"`
	Identifier string    `json:"identifier"`
	Channel    string    `json:"channel"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Used       bool      `json:"used"`
}

// Valid reports whether the entry can still be consumed at the given instant
func (e *Entry) Valid(now time.Time) bool {
	return !e.Used && !now.After(e.ExpiresAt)
}

// Issued is what Register hands back to the caller
type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Store persists entries keyed by (identifier, channel). Implementations must
// make Put an atomic replace and Consume a one-shot operation.
type Store interface {
	// Put replaces any entry for the entry's pair
	Put(ctx context.Context, entry Entry) error
	// Consume marks the pair's entry used when it is valid at now and its code
	// matches according to match. It returns ErrNoEntry otherwise.
	Consume(ctx context.Context, identifier, channel string, now time.Time, match func(stored string) bool) error
	// Purge drops used and expired entries, returning how many were removed
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Registry issues and verifies six-digit one-time codes
type Registry struct {
	store    Store
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
	generate func() (string, error)
}

// Option customises a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithGenerator overrides the code generator
func WithGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.generate = gen }
}

// NewRegistry creates a Registry over store with the given code lifetime
func NewRegistry(store Store, ttl time.Duration, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register issues a fresh code for (identifier, channel), replacing any earlier one.
func (r *Registry) Register(ctx context.Context, identifier, channel string) (*Issued, error) {
	code, err := r.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	now := r.now()
	entry := Entry{
		Code:       code,
		Identifier: identifier,
		Channel:    channel,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}

	if err := r.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store code: %w", err)
	}

	return &Issued{Code: code, ExpiresAt: entry.ExpiresAt}, nil
}

// Verify consumes the code when it is unused, unexpired and matches exactly,
// then purges used and expired entries. Store failures are logged and
// reported as a failed verification.
func (r *Registry) Verify(ctx context.Context, identifier, code, channel string) bool {
	if code == "" {
		return false
	}

	err := r.store.Consume(ctx, identifier, channel, r.now(), func(stored string) bool {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1
	})
	r.Cleanup(ctx)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNoEntry) {
		r.logger.Error("code verification failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
	return false
}

// Cleanup purges used and expired entries
func (r *Registry) Cleanup(ctx context.Context) int {
	removed, err := r.store.Purge(ctx, r.now())
	if err != nil {
		r.logger.Error("code cleanup failed", slog.String("error", err.Error()))
		return 0
	}
	return removed
}

// GenerateCode returns a uniformly random code in 100000-999999
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
