package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guildhq/sexton/internal/auth"
	"github.com/guildhq/sexton/internal/models"
	"github.com/guildhq/sexton/internal/services"
	pkghttp "github.com/guildhq/sexton/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, username string) *http.Request {
	claims := &models.TokenClaims{
		UserID:   userID,
		Username: username,
		Type:     "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks status and the exact error envelope
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.False(t, resp.Success, "Error responses must carry success=false")
	assert.Equal(t, expectedError, resp.Error, "Error message mismatch")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginWithPasswordFunc func(ctx context.Context, username, password, ipAddress string) (*services.AuthResponse, error)
	LoginWithPINFunc      func(ctx context.Context, username, pin, ipAddress string) (*services.AuthResponse, error)
	RefreshTokenFunc      func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	GetIdentityFunc       func(ctx context.Context, userID string) (*services.UserResponse, *services.CongregationResponse, error)
}

func (m *MockAuthService) LoginWithPassword(ctx context.Context, username, password, ipAddress string) (*services.AuthResponse, error) {
	if m.LoginWithPasswordFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginWithPasswordFunc(ctx, username, password, ipAddress)
}

func (m *MockAuthService) LoginWithPIN(ctx context.Context, username, pin, ipAddress string) (*services.AuthResponse, error) {
	if m.LoginWithPINFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginWithPINFunc(ctx, username, pin, ipAddress)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) GetIdentity(ctx context.Context, userID string) (*services.UserResponse, *services.CongregationResponse, error) {
	if m.GetIdentityFunc == nil {
		return nil, nil, models.ErrNotFound
	}
	return m.GetIdentityFunc(ctx, userID)
}
