package repositories

import (
	"context"
	"time"

	"github.com/guildhq/sexton/internal/database"
	"github.com/guildhq/sexton/internal/models"
)

// LoginAttemptRepository persists per-(IP, username) failure tracking
// for the login guard. The guard owns these rows exclusively.
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const attemptColumns = `ip_address, username, attempt_count, is_blocked, blocked_until, first_attempt, last_attempt`

func scanAttemptRow(scanner rowScanner) (*models.LoginAttemptRecord, error) {
	var rec models.LoginAttemptRecord
	var blockedUntil *time.Time

	err := scanner.Scan(
		&rec.IPAddress, &rec.Username, &rec.AttemptCount, &rec.IsBlocked,
		&blockedUntil, &rec.FirstAttempt, &rec.LastAttempt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	rec.BlockedUntil = blockedUntil
	return &rec, nil
}

// Get returns the record for an identity, or models.ErrNotFound
func (r *LoginAttemptRepository) Get(ctx context.Context, ipAddress, username string) (*models.LoginAttemptRecord, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM login_attempts WHERE ip_address = $1 AND username = $2
	`

	return scanAttemptRow(r.db.Pool.QueryRow(ctx, query, ipAddress, username))
}

// Create inserts a clean record for a never-seen identity. A concurrent
// insert for the same identity is a no-op, not an error.
func (r *LoginAttemptRepository) Create(ctx context.Context, ipAddress, username string, now time.Time) error {
	query := `
		INSERT INTO login_attempts (ip_address, username, attempt_count, is_blocked, first_attempt, last_attempt)
		VALUES ($1, $2, 0, false, $3, $3)
		ON CONFLICT (ip_address, username) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query, ipAddress, username, now)
	return database.MapPostgresError(err)
}

// IncrementFailure atomically bumps the failure count and applies the
// escalation policy in a single statement, so concurrent failures for
// the same identity can never skip a threshold or lose an update.
func (r *LoginAttemptRepository) IncrementFailure(ctx context.Context, ipAddress, username string, now time.Time, policy models.LockoutPolicy) (*models.LoginAttemptRecord, error) {
	query := `
		INSERT INTO login_attempts (ip_address, username, attempt_count, is_blocked, blocked_until, first_attempt, last_attempt)
		VALUES ($1, $2, 1,
			1 >= $4,
			CASE
				WHEN 1 >= $6 THEN $3::timestamptz + $7 * INTERVAL '1 second'
				WHEN 1 >= $4 THEN $3::timestamptz + $5 * INTERVAL '1 second'
				ELSE NULL
			END,
			$3, $3)
		ON CONFLICT (ip_address, username) DO UPDATE SET
			attempt_count = login_attempts.attempt_count + 1,
			last_attempt  = EXCLUDED.last_attempt,
			is_blocked    = login_attempts.attempt_count + 1 >= $4,
			blocked_until = CASE
				WHEN login_attempts.attempt_count + 1 >= $6 THEN EXCLUDED.last_attempt + $7 * INTERVAL '1 second'
				WHEN login_attempts.attempt_count + 1 >= $4 THEN EXCLUDED.last_attempt + $5 * INTERVAL '1 second'
				ELSE NULL
			END
		RETURNING ` + attemptColumns + `
	`

	return scanAttemptRow(r.db.Pool.QueryRow(ctx, query,
		ipAddress, username, now,
		policy.ShortThreshold, int64(policy.ShortDuration.Seconds()),
		policy.LongThreshold, int64(policy.LongDuration.Seconds()),
	))
}

// Reset clears the failure count and any block after a successful login
func (r *LoginAttemptRepository) Reset(ctx context.Context, ipAddress, username string, now time.Time) error {
	query := `
		UPDATE login_attempts
		SET attempt_count = 0, is_blocked = false, blocked_until = NULL, last_attempt = $3
		WHERE ip_address = $1 AND username = $2
	`

	_, err := r.db.Pool.Exec(ctx, query, ipAddress, username, now)
	return database.MapPostgresError(err)
}

// ResetIfExpired performs the lazy expiry reset. The predicate keeps it
// from clobbering a block applied concurrently by another request.
func (r *LoginAttemptRepository) ResetIfExpired(ctx context.Context, ipAddress, username string, now time.Time) error {
	query := `
		UPDATE login_attempts
		SET attempt_count = 0, is_blocked = false, blocked_until = NULL, last_attempt = $3
		WHERE ip_address = $1 AND username = $2
		  AND is_blocked AND blocked_until IS NOT NULL AND blocked_until < $3
	`

	_, err := r.db.Pool.Exec(ctx, query, ipAddress, username, now)
	return database.MapPostgresError(err)
}
