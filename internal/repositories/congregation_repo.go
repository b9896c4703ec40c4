package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/guildhq/sexton/internal/database"
	"github.com/guildhq/sexton/internal/models"
)

type CongregationRepository struct {
	db *database.DB
}

func NewCongregationRepository(db *database.DB) *CongregationRepository {
	return &CongregationRepository{db: db}
}

const congregationColumns = `id, name, pin_hash, is_district, created_at, updated_at`

func scanCongregationRow(scanner rowScanner) (*models.Congregation, error) {
	var c models.Congregation

	err := scanner.Scan(
		&c.ID, &c.Name, &c.PinHash, &c.IsDistrict,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

func (r *CongregationRepository) GetByID(ctx context.Context, id string) (*models.Congregation, error) {
	query := `
		SELECT ` + congregationColumns + `
		FROM congregations WHERE id = $1
	`

	return scanCongregationRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *CongregationRepository) Create(ctx context.Context, c *models.Congregation) (*models.Congregation, error) {
	c.ID = uuid.New().String()

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	query := `
		INSERT INTO congregations (id, name, pin_hash, is_district, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + congregationColumns + `
	`

	return scanCongregationRow(r.db.Pool.QueryRow(ctx, query,
		c.ID, c.Name, c.PinHash, c.IsDistrict, c.CreatedAt, c.UpdatedAt,
	))
}
