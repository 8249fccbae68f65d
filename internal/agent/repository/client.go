package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/propwatch/internal/agent/model"
)

// ClientRepository provides CRUD operations for Client against PostgreSQL.
type ClientRepository struct {
	db *pgxpool.Pool
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create inserts a new client, generating an ID if one isn't already set.
func (r *ClientRepository) Create(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.ClientStatusActive
	}

	query := `
		INSERT INTO clients (id, name, email, phone, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, query, c.ID, c.Name, c.Email, c.Phone, c.Notes, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// GetByID retrieves a client by ID.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*model.Client, error) {
	query := `SELECT id, name, email, phone, notes, status, created_at, updated_at FROM clients WHERE id = $1`
	row := r.db.QueryRow(ctx, query, id)

	var c model.Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translateNoRows(err, ErrNotFound)
	}
	return &c, nil
}

// GetByEmail retrieves a client by email address.
func (r *ClientRepository) GetByEmail(ctx context.Context, email string) (*model.Client, error) {
	query := `SELECT id, name, email, phone, notes, status, created_at, updated_at FROM clients WHERE email = $1 LIMIT 1`
	row := r.db.QueryRow(ctx, query, email)

	var c model.Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translateNoRows(err, ErrNotFound)
	}
	return &c, nil
}

// FindOrCreateByEmail returns the existing client with the given email, or
// creates a new one with name if none exists yet. POST /api/agents takes a
// client name/email pair rather than a pre-existing client ID, so agent
// creation never requires a separate client-provisioning call.
func (r *ClientRepository) FindOrCreateByEmail(ctx context.Context, name, email string) (*model.Client, error) {
	existing, err := r.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c := &model.Client{Name: name, Email: email}
	if err := r.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
