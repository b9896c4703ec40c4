package models

import "time"

// LoginAttemptRecord tracks consecutive failed logins for one
// (client IP, username) pair. Exactly one row exists per pair; it is
// created lazily on first contact and retained indefinitely.
type LoginAttemptRecord struct {
	IPAddress    string     `db:"ip_address"`
	Username     string     `db:"username"`
	AttemptCount int        `db:"attempt_count"`
	IsBlocked    bool       `db:"is_blocked"`
	BlockedUntil *time.Time `db:"blocked_until"`
	FirstAttempt time.Time  `db:"first_attempt"`
	LastAttempt  time.Time  `db:"last_attempt"`
}

// LockoutPolicy defines the escalation thresholds applied after each
// failed attempt. Evaluated against the post-increment count:
// count >= LongThreshold blocks for LongDuration, else
// count >= ShortThreshold blocks for ShortDuration.
type LockoutPolicy struct {
	ShortThreshold int
	ShortDuration  time.Duration
	LongThreshold  int
	LongDuration   time.Duration
}

// DefaultLockoutPolicy returns the enforced escalation policy:
// 3 failures -> 30 minute block, 6 failures -> 24 hour block.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		ShortThreshold: 3,
		ShortDuration:  30 * time.Minute,
		LongThreshold:  6,
		LongDuration:   24 * time.Hour,
	}
}
