package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/guildhq/sexton/internal/auth"
	"github.com/guildhq/sexton/internal/models"
	"github.com/guildhq/sexton/internal/services"
	pkghttp "github.com/guildhq/sexton/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	LoginWithPassword(ctx context.Context, username, password, ipAddress string) (*services.AuthResponse, error)
	LoginWithPIN(ctx context.Context, username, pin, ipAddress string) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	GetIdentity(ctx context.Context, userID string) (*services.UserResponse, *services.CongregationResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// Request DTOs

// LoginRequest represents the request body for password login
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=150"`
	Password string `json:"password" validate:"required"`
}

// PinLoginRequest represents the request body for congregation PIN login
type PinLoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=150"`
	Pin      string `json:"pin" validate:"required,len=4,numeric"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// IdentityResponse represents the response for the current identity
type IdentityResponse struct {
	Success      bool                           `json:"success"`
	User         *services.UserResponse         `json:"user"`
	Congregation *services.CongregationResponse `json:"congregation,omitempty"`
}

// Login handles password login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	ipAddress := pkghttp.ExtractClientIP(r)

	authResp, err := h.service.LoginWithPassword(r.Context(), req.Username, req.Password, ipAddress)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// PinLogin handles congregation PIN login
func (h *AuthHandler) PinLogin(w http.ResponseWriter, r *http.Request) {
	var req PinLoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	ipAddress := pkghttp.ExtractClientIP(r)

	authResp, err := h.service.LoginWithPIN(r.Context(), req.Username, req.Pin, ipAddress)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// writeLoginError maps login failures onto the response envelope the
// frontend expects. Account state problems collapse into the generic
// 401 to prevent user enumeration.
func writeLoginError(w http.ResponseWriter, err error) {
	var blocked *models.LoginBlockedError
	var invalid *models.InvalidCredentialsError

	switch {
	case errors.As(err, &blocked):
		pkghttp.WriteTooManyRequests(w, fmt.Sprintf(
			"Too many failed login attempts. Please try again in %s.",
			services.FormatRetryAfter(blocked.RetryAfter)))
	case errors.As(err, &invalid):
		pkghttp.WriteUnauthorized(w, fmt.Sprintf(
			"Invalid credentials. %d attempts remaining.", invalid.Remaining))
	case errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Me returns the authenticated user and their congregation
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, congregation, err := h.service.GetIdentity(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, IdentityResponse{
		Success:      true,
		User:         user,
		Congregation: congregation,
	})
}
