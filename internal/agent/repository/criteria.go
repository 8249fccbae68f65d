package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
	"github.com/jmerrifield20/propwatch/internal/matchengine"
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// CriteriaRepository provides create/read operations for Criteria.
// Criteria rows are never updated in place: a re-configured
// agent gets a new row via Create, not an Update method.
type CriteriaRepository struct {
	db *pgxpool.Pool
}

// NewCriteriaRepository creates a new CriteriaRepository.
func NewCriteriaRepository(db *pgxpool.Pool) *CriteriaRepository {
	return &CriteriaRepository{db: db}
}

// Create inserts a new immutable criteria row.
func (r *CriteriaRepository) Create(ctx context.Context, c *matchengine.Criteria) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	dealQualities := make([]string, len(c.DealQualities))
	for i, dq := range c.DealQualities {
		dealQualities[i] = string(dq)
	}

	query := `
		INSERT INTO criteria (id, locations, price_min, price_max, bedrooms_min, bathrooms_min,
		                       property_types, deal_qualities, min_score, investment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Exec(ctx, query,
		c.ID, c.Locations, c.PriceMin, c.PriceMax, c.BedroomsMin, c.BathroomsMin,
		c.PropertyTypes, dealQualities, c.MinScore, c.InvestmentType, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert criteria: %w", err)
	}
	return nil
}

// GetByID retrieves a criteria row by ID.
func (r *CriteriaRepository) GetByID(ctx context.Context, id string) (*model.CriteriaRecord, error) {
	query := `
		SELECT id, locations, price_min, price_max, bedrooms_min, bathrooms_min,
		       property_types, deal_qualities, min_score, investment_type, created_at
		FROM criteria WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)

	var rec model.CriteriaRecord
	var dealQualities []string
	err := row.Scan(
		&rec.ID, &rec.Locations, &rec.PriceMin, &rec.PriceMax, &rec.BedroomsMin, &rec.BathroomsMin,
		&rec.PropertyTypes, &dealQualities, &rec.MinScore, &rec.InvestmentType, &rec.CreatedAt,
	)
	if err != nil {
		return nil, translateNoRows(err, ErrNotFound)
	}
	rec.DealQualities = make([]propertymodel.DealQuality, len(dealQualities))
	for i, dq := range dealQualities {
		rec.DealQualities[i] = propertymodel.DealQuality(dq)
	}
	return &rec, nil
}
