package repository

import (
	"context"
	"errors"
	"time"

	"github.com/storefront-labs/gateway/internal/db/models"
)

var (
	// ErrCustomerNotFound is returned when no customer row matches.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerExists is returned when the email or provider user id is already taken.
	ErrCustomerExists = errors.New("customer already exists")
)

// CustomerRepository exposes persistence operations for storefront customers.
type CustomerRepository interface {
	// Reserve inserts a pending customer. A duplicate email yields ErrCustomerExists.
	Reserve(ctx context.Context, customer *models.Customer) error
	// Activate links a pending customer to its IdP subject and marks it active.
	Activate(ctx context.Context, id, providerUserID string) error
	// Delete removes a customer by primary key.
	Delete(ctx context.Context, id string) error
	// DeleteByProviderUserID removes the customer linked to an IdP subject.
	DeleteByProviderUserID(ctx context.Context, providerUserID string) error

	GetByID(ctx context.Context, id string) (*models.Customer, error)
	GetByEmail(ctx context.Context, email string) (*models.Customer, error)
	// ListPending returns pending customers created before cutoff, oldest first.
	ListPending(ctx context.Context, cutoff time.Time) ([]models.Customer, error)
}
