package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/guildhq/sexton/internal/auth"
	pkghttp "github.com/guildhq/sexton/pkg/http"
	pkglogger "github.com/guildhq/sexton/pkg/logger"
)

// LockoutClearer clears guard state for one identity
type LockoutClearer interface {
	Clear(ctx context.Context, ipAddress, username string) error
}

// AdminHandler handles district-only administrative requests
type AdminHandler struct {
	guard       LockoutClearer
	auditLogger *pkglogger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(guard LockoutClearer, auditLogger *pkglogger.AuditLogger) *AdminHandler {
	return &AdminHandler{
		guard:       guard,
		auditLogger: auditLogger,
	}
}

// UnlockRequest identifies the lockout to clear
type UnlockRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Username  string `json:"username" validate:"required,min=1,max=150"`
}

// UnlockResponse confirms the cleared lockout
type UnlockResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Unlock clears the login guard state for one (IP, username) identity,
// letting a locked-out user try again immediately
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.guard.Clear(r.Context(), req.IPAddress, req.Username); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.auditLogger.LogAccountAction("lockout_cleared", claims.UserID, pkghttp.ExtractClientIP(r), map[string]string{
		"target_ip":       req.IPAddress,
		"target_username": pkglogger.SanitizedUsername(req.Username),
	})

	pkghttp.WriteJSON(w, http.StatusOK, UnlockResponse{
		Success: true,
		Message: "Lockout cleared",
	})
}
