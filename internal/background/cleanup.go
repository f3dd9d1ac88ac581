package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CodeSweeper drops expired one-time codes
type CodeSweeper interface {
	Cleanup(ctx context.Context) int
}

// InviteExpirer marks invites past their expiry as expired
type InviteExpirer interface {
	ExpireStaleInvites(ctx context.Context) (int64, error)
}

// CleanupManager periodically sweeps expired codes and invites
type CleanupManager struct {
	codes    CodeSweeper
	invites  InviteExpirer
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	codes CodeSweeper,
	invites InviteExpirer,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		codes:    codes,
		invites:  invites,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task and blocks until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.codes != nil {
		if n := cm.codes.Cleanup(cleanupCtx); n > 0 {
			cm.logger.Info("expired codes removed", slog.Int("count", n))
		}
	}

	if cm.invites != nil {
		n, err := cm.invites.ExpireStaleInvites(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to expire stale invites", slog.Any("error", err))
			return
		}
		if n > 0 {
			cm.logger.Info("stale invites expired", slog.Int64("count", n))
		}
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
