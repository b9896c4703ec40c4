package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildhq/sexton/internal/models"
)

// LoginGuardRepository defines the persistence operations the guard
// needs. IncrementFailure must apply the increment and escalation
// atomically; ResetIfExpired must be conditional on the block having
// actually elapsed.
type LoginGuardRepository interface {
	Get(ctx context.Context, ipAddress, username string) (*models.LoginAttemptRecord, error)
	Create(ctx context.Context, ipAddress, username string, now time.Time) error
	IncrementFailure(ctx context.Context, ipAddress, username string, now time.Time, policy models.LockoutPolicy) (*models.LoginAttemptRecord, error)
	Reset(ctx context.Context, ipAddress, username string, now time.Time) error
	ResetIfExpired(ctx context.Context, ipAddress, username string, now time.Time) error
}

// CheckResult is the outcome of consulting the guard before verifying
// credentials. RetryAfter is meaningful only when Allowed is false.
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// LoginGuardService gates authentication attempts per (client IP,
// username) identity, enforcing the progressive lockout policy. It is
// independent of how credentials are verified: the caller runs Check
// before verification and reports the outcome with RecordFailure or
// RecordSuccess afterwards.
type LoginGuardService struct {
	repo   LoginGuardRepository
	policy models.LockoutPolicy
	logger *slog.Logger
}

// NewLoginGuardService creates a new LoginGuardService
func NewLoginGuardService(repo LoginGuardRepository, policy models.LockoutPolicy, logger *slog.Logger) *LoginGuardService {
	return &LoginGuardService{
		repo:   repo,
		policy: policy,
		logger: logger,
	}
}

// Check reports whether a login attempt for this identity may proceed.
// A never-seen identity gets a clean record and is allowed. An elapsed
// block is reset lazily here; there is no background sweep.
// Check never increments the failure count - that is RecordFailure's job.
func (s *LoginGuardService) Check(ctx context.Context, ipAddress, username string) (CheckResult, error) {
	now := time.Now()

	rec, err := s.repo.Get(ctx, ipAddress, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if err := s.repo.Create(ctx, ipAddress, username, now); err != nil {
				return CheckResult{}, fmt.Errorf("failed to create login attempt record: %w", err)
			}
			return CheckResult{Allowed: true}, nil
		}
		return CheckResult{}, fmt.Errorf("failed to load login attempt record: %w", err)
	}

	if rec.IsBlocked && rec.BlockedUntil != nil {
		if !now.After(*rec.BlockedUntil) {
			return CheckResult{Allowed: false, RetryAfter: rec.BlockedUntil.Sub(now)}, nil
		}

		// Block elapsed: lazy expiry reset
		if err := s.repo.ResetIfExpired(ctx, ipAddress, username, now); err != nil {
			return CheckResult{}, fmt.Errorf("failed to reset expired block: %w", err)
		}
		s.logger.Info("login block expired, counter reset",
			slog.String("ip_address", ipAddress))
	}

	return CheckResult{Allowed: true}, nil
}

// RecordFailure registers a failed credential check and applies the
// escalation policy against the post-increment count. Returns the new
// count so the caller can surface remaining attempts.
func (s *LoginGuardService) RecordFailure(ctx context.Context, ipAddress, username string) (int, error) {
	now := time.Now()

	rec, err := s.repo.IncrementFailure(ctx, ipAddress, username, now, s.policy)
	if err != nil {
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}

	if rec.IsBlocked {
		s.logger.Warn("identity blocked after repeated failures",
			slog.String("ip_address", ipAddress),
			slog.Int("attempt_count", rec.AttemptCount))
	}

	return rec.AttemptCount, nil
}

// RecordSuccess clears any accumulated failures for the identity.
// A success for a never-seen identity is a no-op.
func (s *LoginGuardService) RecordSuccess(ctx context.Context, ipAddress, username string) error {
	if err := s.repo.Reset(ctx, ipAddress, username, time.Now()); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// Clear wipes the failure count and any active block for an identity
// without waiting for expiry. This is the administrative escape hatch
// for legitimate users locked out of a shared address.
func (s *LoginGuardService) Clear(ctx context.Context, ipAddress, username string) error {
	if err := s.repo.Reset(ctx, ipAddress, username, time.Now()); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	s.logger.Info("lockout cleared",
		slog.String("ip_address", ipAddress))
	return nil
}

// RemainingAttempts converts a failure count into the number of tries
// left before the short block engages, floored at zero.
func (s *LoginGuardService) RemainingAttempts(attemptCount int) int {
	remaining := s.policy.ShortThreshold - attemptCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FormatRetryAfter renders a remaining block duration as the
// "X hours and Y minutes" phrasing the frontend expects.
func FormatRetryAfter(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%d hours and %d minutes", hours, minutes)
}
