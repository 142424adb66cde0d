package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/storefront-labs/gateway/internal/db/bunx"
	"github.com/storefront-labs/gateway/internal/db/models"
)

// BunCustomerRepository implements CustomerRepository using Bun ORM
type BunCustomerRepository struct {
	db *bun.DB
}

// NewBunCustomerRepository creates a new Bun-based customer repository
func NewBunCustomerRepository(db *bun.DB) *BunCustomerRepository {
	return &BunCustomerRepository{db: db}
}

// Reserve inserts a pending customer, assigning an ID when none is set.
func (r *BunCustomerRepository) Reserve(ctx context.Context, customer *models.Customer) error {
	if customer.ID == "" {
		customer.ID = bunx.NewUUIDv7()
	}
	customer.Email = normalizeEmail(customer.Email)
	customer.Status = models.CustomerPending
	customer.ProviderUserID = nil

	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now

	_, err := r.db.NewInsert().Model(customer).Exec(ctx)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: email %s", ErrCustomerExists, customer.Email)
		}
		return fmt.Errorf("reserve customer: %w", err)
	}
	return nil
}

// Activate marks a pending customer active. Activating an already active customer fails.
func (r *BunCustomerRepository) Activate(ctx context.Context, id, providerUserID string) error {
	if providerUserID == "" {
		return fmt.Errorf("activate customer %s: provider user id is required", id)
	}

	now := time.Now().UTC()
	result, err := r.db.NewUpdate().
		Model((*models.Customer)(nil)).
		Set("status = ?", models.CustomerActive).
		Set("provider_user_id = ?", providerUserID).
		Set("activated_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.CustomerPending).
		Exec(ctx)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: provider user %s", ErrCustomerExists, providerUserID)
		}
		return fmt.Errorf("activate customer: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: no pending customer %s", ErrCustomerNotFound, id)
	}
	return nil
}

// Delete removes a customer by ID
func (r *BunCustomerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*models.Customer)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
	}
	return nil
}

// DeleteByProviderUserID removes the customer linked to an IdP subject
func (r *BunCustomerRepository) DeleteByProviderUserID(ctx context.Context, providerUserID string) error {
	result, err := r.db.NewDelete().
		Model((*models.Customer)(nil)).
		Where("provider_user_id = ?", providerUserID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete customer by provider user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: provider user %s", ErrCustomerNotFound, providerUserID)
	}
	return nil
}

// GetByID retrieves a customer by ID
func (r *BunCustomerRepository) GetByID(ctx context.Context, id string) (*models.Customer, error) {
	customer := new(models.Customer)
	err := r.db.NewSelect().Model(customer).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return customer, nil
}

// GetByEmail retrieves a customer by email (case-insensitive)
func (r *BunCustomerRepository) GetByEmail(ctx context.Context, email string) (*models.Customer, error) {
	customer := new(models.Customer)
	err := r.db.NewSelect().Model(customer).Where("email = ?", normalizeEmail(email)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, email)
		}
		return nil, fmt.Errorf("get customer by email: %w", err)
	}
	return customer, nil
}

// ListPending returns pending customers created before cutoff, oldest first
func (r *BunCustomerRepository) ListPending(ctx context.Context, cutoff time.Time) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.NewSelect().
		Model(&customers).
		Where("status = ?", models.CustomerPending).
		Where("created_at < ?", cutoff.UTC()).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending customers: %w", err)
	}
	return customers, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "23505")
}
