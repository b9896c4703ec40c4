package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/guildhq/sexton/internal/database"
	"github.com/guildhq/sexton/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, username, password_hash, name, role, status, congregation_id, created_at, updated_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var congregationID *string

	err := scanner.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Name,
		&user.Role, &user.Status, &congregationID,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.CongregationID = congregationID
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = $1
	`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE username = $1
	`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, username))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleLocal
	}

	if user.Status == "" {
		user.Status = "active"
	}

	query := `
		INSERT INTO users (id, username, password_hash, name, role, status, congregation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns + `
	`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Name,
		user.Role, user.Status, user.CongregationID,
		user.CreatedAt, user.UpdatedAt,
	))
}
