package services_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guildhq/sexton/internal/auth"
	"github.com/guildhq/sexton/internal/models"
	"github.com/guildhq/sexton/internal/services"
	pkglogger "github.com/guildhq/sexton/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MockUserStore implements UserRepository for testing
type MockUserStore struct {
	byUsername map[string]*models.User
	byID       map[string]*models.User
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{
		byUsername: make(map[string]*models.User),
		byID:       make(map[string]*models.User),
	}
}

func (m *MockUserStore) add(user *models.User) *models.User {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	m.byUsername[user.Username] = user
	m.byID[user.ID] = user
	return user
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.byID[id]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if user, ok := m.byUsername[username]; ok {
		return user, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if _, ok := m.byUsername[user.Username]; ok {
		return nil, models.ErrConflict
	}
	return m.add(user), nil
}

// MockCongregationStore implements CongregationRepository for testing
type MockCongregationStore struct {
	byID map[string]*models.Congregation
}

func NewMockCongregationStore() *MockCongregationStore {
	return &MockCongregationStore{byID: make(map[string]*models.Congregation)}
}

func (m *MockCongregationStore) add(c *models.Congregation) *models.Congregation {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	m.byID[c.ID] = c
	return c
}

func (m *MockCongregationStore) GetByID(ctx context.Context, id string) (*models.Congregation, error) {
	if c, ok := m.byID[id]; ok {
		return c, nil
	}
	return nil, models.ErrNotFound
}

// quickHash uses the minimum bcrypt cost to keep tests fast
func quickHash(t *testing.T, plaintext string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type authFixture struct {
	service       *services.AuthService
	users         *MockUserStore
	congregations *MockCongregationStore
	attempts      *MockLoginAttemptStore
	tm            *auth.TokenManager
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	users := NewMockUserStore()
	congregations := NewMockCongregationStore()
	attempts := NewMockLoginAttemptStore()
	guard := services.NewLoginGuardService(attempts, models.DefaultLockoutPolicy(), logger)
	tm := auth.NewTokenManager("test-secret-at-least-16ch", 15*time.Minute, 7*24*time.Hour)
	timing := auth.NewTimingDelay(auth.TimingConfig{})
	auditLogger := pkglogger.NewAuditLogger(logger)

	return &authFixture{
		service:       services.NewAuthService(users, congregations, guard, tm, timing, logger, auditLogger),
		users:         users,
		congregations: congregations,
		attempts:      attempts,
		tm:            tm,
	}
}

func (f *authFixture) seedUser(t *testing.T, username, password string, congregationID *string) *models.User {
	t.Helper()
	return f.users.add(&models.User{
		Username:       username,
		PasswordHash:   quickHash(t, password),
		Name:           "Test User",
		Role:           models.RoleLocal,
		Status:         "active",
		CongregationID: congregationID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
}

func TestAuthServiceLoginWithPassword_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "alice", "correct horse", nil)
	ctx := context.Background()

	resp, err := f.service.LoginWithPassword(ctx, "alice", "correct horse", "192.168.1.1")

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice", resp.User.Username)
	assert.Nil(t, resp.Congregation)
}

func TestAuthServiceLoginWithPassword_SuccessResetsFailures(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "alice", "correct horse", nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.service.LoginWithPassword(ctx, "alice", "wrong", "192.168.1.1")
		require.Error(t, err)
	}

	_, err := f.service.LoginWithPassword(ctx, "alice", "correct horse", "192.168.1.1")
	require.NoError(t, err)

	rec, err := f.attempts.Get(ctx, "192.168.1.1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AttemptCount)
}

func TestAuthServiceLoginWithPassword_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "alice", "correct horse", nil)

	_, err := f.service.LoginWithPassword(context.Background(), "alice", "wrong", "192.168.1.1")

	var invalid *models.InvalidCredentialsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.Remaining)
}

func TestAuthServiceLoginWithPassword_UnknownUsernameCountsFailure(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.LoginWithPassword(ctx, "ghost", "whatever", "192.168.1.1")

	var invalid *models.InvalidCredentialsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.Remaining)

	// Unknown usernames accumulate failures like real ones
	rec, err := f.attempts.Get(ctx, "192.168.1.1", "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptCount)
}

func TestAuthServiceLoginWithPassword_ThirdFailureBlocks(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "alice", "correct horse", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.LoginWithPassword(ctx, "alice", "wrong", "192.168.1.1")
		var invalid *models.InvalidCredentialsError
		require.ErrorAs(t, err, &invalid)
	}

	// Even the correct password is rejected while the block is active
	_, err := f.service.LoginWithPassword(ctx, "alice", "correct horse", "192.168.1.1")

	var blocked *models.LoginBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Greater(t, blocked.RetryAfter, 29*time.Minute)
	assert.LessOrEqual(t, blocked.RetryAfter, 30*time.Minute)
}

func TestAuthServiceLoginWithPassword_BlockedIdentitySkipsVerification(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "alice", "correct horse", nil)
	f.attempts.seedBlocked("192.168.1.1", "alice", 3, time.Now().Add(10*time.Minute))
	ctx := context.Background()

	_, err := f.service.LoginWithPassword(ctx, "alice", "correct horse", "192.168.1.1")

	var blocked *models.LoginBlockedError
	require.ErrorAs(t, err, &blocked)

	// The rejected attempt must not advance the counter
	rec, err := f.attempts.Get(ctx, "192.168.1.1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.AttemptCount)
}

func TestAuthServiceLoginWithPassword_DisabledAccount(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "alice", "correct horse", nil)
	user.Status = "disabled"

	_, err := f.service.LoginWithPassword(context.Background(), "alice", "correct horse", "192.168.1.1")

	assert.ErrorIs(t, err, models.ErrAccountDisabled)
}

func TestAuthServiceLoginWithPassword_DisabledAccountKeepsCounter(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "alice", "correct horse", nil)
	ctx := context.Background()

	_, err := f.service.LoginWithPassword(ctx, "alice", "wrong", "192.168.1.1")
	require.Error(t, err)

	user.Status = "disabled"

	_, err = f.service.LoginWithPassword(ctx, "alice", "correct horse", "192.168.1.1")
	require.ErrorIs(t, err, models.ErrAccountDisabled)

	// A verified credential against a disabled account is not a
	// successful authentication, so the counter must not reset
	rec, err := f.attempts.Get(ctx, "192.168.1.1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptCount)
}

func TestAuthServiceLoginWithPassword_EmptyUsername(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.LoginWithPassword(context.Background(), "   ", "whatever", "192.168.1.1")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthServiceLoginWithPIN_Success(t *testing.T) {
	f := newAuthFixture(t)
	congregation := f.congregations.add(&models.Congregation{
		Name:    "Hillside",
		PinHash: quickHash(t, "4821"),
	})
	f.seedUser(t, "alice", "unused password", &congregation.ID)

	resp, err := f.service.LoginWithPIN(context.Background(), "alice", "4821", "192.168.1.1")

	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Congregation)
	assert.Equal(t, "Hillside", resp.Congregation.Name)
}

func TestAuthServiceLoginWithPIN_WrongPIN(t *testing.T) {
	f := newAuthFixture(t)
	congregation := f.congregations.add(&models.Congregation{
		Name:    "Hillside",
		PinHash: quickHash(t, "4821"),
	})
	f.seedUser(t, "alice", "unused password", &congregation.ID)
	ctx := context.Background()

	_, err := f.service.LoginWithPIN(ctx, "alice", "0000", "192.168.1.1")

	var invalid *models.InvalidCredentialsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.Remaining)
}

func TestAuthServiceLoginWithPIN_UserWithoutCongregation(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "alice", "correct horse", nil)

	_, err := f.service.LoginWithPIN(context.Background(), "alice", "4821", "192.168.1.1")

	var invalid *models.InvalidCredentialsError
	assert.ErrorAs(t, err, &invalid)
}

func TestAuthServiceLoginFailures_ShareCounterAcrossMethods(t *testing.T) {
	f := newAuthFixture(t)
	congregation := f.congregations.add(&models.Congregation{
		Name:    "Hillside",
		PinHash: quickHash(t, "4821"),
	})
	f.seedUser(t, "alice", "correct horse", &congregation.ID)
	ctx := context.Background()

	// Two password failures plus one PIN failure for the same identity
	// trip the shared lockout
	for i := 0; i < 2; i++ {
		_, err := f.service.LoginWithPassword(ctx, "alice", "wrong", "192.168.1.1")
		require.Error(t, err)
	}
	_, err := f.service.LoginWithPIN(ctx, "alice", "0000", "192.168.1.1")
	require.Error(t, err)

	_, err = f.service.LoginWithPassword(ctx, "alice", "correct horse", "192.168.1.1")
	var blocked *models.LoginBlockedError
	assert.ErrorAs(t, err, &blocked)
}

func TestAuthServiceRefreshToken_Success(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "alice", "correct horse", nil)

	refreshToken, err := f.tm.GenerateRefreshToken(user.ID, user.Username)
	require.NoError(t, err)

	resp, err := f.service.RefreshToken(context.Background(), refreshToken)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestAuthServiceRefreshToken_RejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "alice", "correct horse", nil)

	accessToken, err := f.tm.GenerateAccessToken(user.ID, user.Username)
	require.NoError(t, err)

	_, err = f.service.RefreshToken(context.Background(), accessToken)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthServiceRefreshToken_RejectsGarbage(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.RefreshToken(context.Background(), "not-a-token")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthServiceRefreshToken_DisabledAccount(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "alice", "correct horse", nil)

	refreshToken, err := f.tm.GenerateRefreshToken(user.ID, user.Username)
	require.NoError(t, err)

	user.Status = "disabled"

	_, err = f.service.RefreshToken(context.Background(), refreshToken)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthServiceGetIdentity(t *testing.T) {
	f := newAuthFixture(t)
	congregation := f.congregations.add(&models.Congregation{
		Name:    "Hillside",
		PinHash: quickHash(t, "4821"),
	})
	user := f.seedUser(t, "alice", "correct horse", &congregation.ID)

	userResp, congregationResp, err := f.service.GetIdentity(context.Background(), user.ID)

	require.NoError(t, err)
	assert.Equal(t, "alice", userResp.Username)
	require.NotNil(t, congregationResp)
	assert.Equal(t, "Hillside", congregationResp.Name)
}

func TestAuthServiceGetIdentity_UnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	_, _, err := f.service.GetIdentity(context.Background(), uuid.New().String())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
