package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/guildhq/sexton/internal/auth"
	"github.com/guildhq/sexton/internal/models"
	pkgauth "github.com/guildhq/sexton/pkg/auth"
	pkglogger "github.com/guildhq/sexton/pkg/logger"
)

// UserRepository defines the interface for user persistence
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// CongregationRepository defines the interface for congregation lookups
type CongregationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Congregation, error)
}

// LoginGuard is consulted before credential verification and updated
// with the outcome afterwards
type LoginGuard interface {
	Check(ctx context.Context, ipAddress, username string) (CheckResult, error)
	RecordFailure(ctx context.Context, ipAddress, username string) (int, error)
	RecordSuccess(ctx context.Context, ipAddress, username string) error
	RemainingAttempts(attemptCount int) int
}

// AuthService handles authentication business logic
type AuthService struct {
	users         UserRepository
	congregations CongregationRepository
	guard         LoginGuard
	tm            *auth.TokenManager
	timing        *auth.TimingDelay
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(users UserRepository, congregations CongregationRepository, guard LoginGuard, tm *auth.TokenManager, timing *auth.TimingDelay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		users:         users,
		congregations: congregations,
		guard:         guard,
		tm:            tm,
		timing:        timing,
		logger:        logger,
		auditLogger:   auditLogger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	CongregationID string `json:"congregation_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// CongregationResponse represents a congregation in the HTTP response
type CongregationResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsDistrict bool   `json:"is_district"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	Success      bool                  `json:"success"`
	Message      string                `json:"message,omitempty"`
	AccessToken  string                `json:"access_token"`
	RefreshToken string                `json:"refresh_token"`
	User         *UserResponse         `json:"user"`
	Congregation *CongregationResponse `json:"congregation,omitempty"`
}

// LoginWithPassword authenticates a user by username and password
func (s *AuthService) LoginWithPassword(ctx context.Context, username, password, ipAddress string) (*AuthResponse, error) {
	return s.login(ctx, username, ipAddress, func(user *models.User) error {
		return pkgauth.ComparePassword(user.PasswordHash, password)
	})
}

// LoginWithPIN authenticates a user by username and their
// congregation's access PIN
func (s *AuthService) LoginWithPIN(ctx context.Context, username, pin, ipAddress string) (*AuthResponse, error) {
	return s.login(ctx, username, ipAddress, func(user *models.User) error {
		if user.CongregationID == nil {
			return fmt.Errorf("user has no congregation")
		}
		congregation, err := s.congregations.GetByID(ctx, *user.CongregationID)
		if err != nil {
			return err
		}
		return pkgauth.ComparePIN(congregation.PinHash, pin)
	})
}

// login runs the shared flow: consult the guard, verify the
// credential, report the outcome back to the guard. The guard is
// consulted strictly before verification so blocked identities never
// reach the credential check.
func (s *AuthService) login(ctx context.Context, username, ipAddress string, verify func(*models.User) error) (*AuthResponse, error) {
	start := time.Now()

	if username = strings.TrimSpace(username); username == "" {
		s.logger.Warn("login attempt with empty username")
		return nil, models.ErrUnauthorized
	}

	check, err := s.guard.Check(ctx, ipAddress, username)
	if err != nil {
		s.logger.Error("login guard check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !check.Allowed {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_blocked",
			Username:      username,
			IPAddress:     ipAddress,
			FailureReason: "lockout_active",
			Success:       false,
		})
		return nil, &models.LoginBlockedError{RetryAfter: check.RetryAfter}
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user by username", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// An unknown username is a failed verification: the guard tracks
	// attempted usernames whether or not an account exists.
	if user == nil || verify(user) != nil {
		count, gerr := s.guard.RecordFailure(ctx, ipAddress, username)
		if gerr != nil {
			s.logger.Error("failed to record login failure", slog.Any("error", gerr))
			return nil, models.ErrInternalServer
		}

		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			Username:      username,
			IPAddress:     ipAddress,
			FailureReason: "invalid_credentials",
			AttemptCount:  count,
			Success:       false,
		})

		s.timing.WaitFrom(start, false)
		return nil, &models.InvalidCredentialsError{Remaining: s.guard.RemainingAttempts(count)}
	}

	if user.Status != "active" {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "account_disabled",
			Success:       false,
		})
		s.timing.WaitFrom(start, false)
		return nil, models.ErrAccountDisabled
	}

	if err := s.guard.RecordSuccess(ctx, ipAddress, username); err != nil {
		s.logger.Error("failed to reset login attempts", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp, err := s.buildAuthResponse(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return resp, nil
}

// RefreshToken generates a new token pair from a refresh token
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found for token refresh", slog.String("user_id", claims.UserID))
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.Status != "active" {
		s.logger.Info("token refresh blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		return nil, models.ErrUnauthorized
	}

	resp, err := s.buildAuthResponse(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return resp, nil
}

// GetIdentity returns the user and congregation for an authenticated subject
func (s *AuthService) GetIdentity(ctx context.Context, userID string) (*UserResponse, *CongregationResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	congregation, err := s.lookupCongregation(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return userModelToResponse(user), congregation, nil
}

func (s *AuthService) buildAuthResponse(ctx context.Context, user *models.User) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	congregation, err := s.lookupCongregation(ctx, user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		Success:      true,
		Message:      "Login successful",
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
		Congregation: congregation,
	}, nil
}

func (s *AuthService) lookupCongregation(ctx context.Context, user *models.User) (*CongregationResponse, error) {
	if user.CongregationID == nil {
		return nil, nil
	}

	congregation, err := s.congregations.GetByID(ctx, *user.CongregationID)
	if err != nil {
		s.logger.Error("failed to get congregation",
			slog.String("congregation_id", *user.CongregationID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &CongregationResponse{
		ID:         congregation.ID,
		Name:       congregation.Name,
		IsDistrict: congregation.IsDistrict,
	}, nil
}

// userModelToResponse converts a user model to response DTO
func userModelToResponse(user *models.User) *UserResponse {
	resp := &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if user.CongregationID != nil {
		resp.CongregationID = *user.CongregationID
	}
	return resp
}
