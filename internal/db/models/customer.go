package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CustomerStatus tracks a customer through the two-phase sign-up.
type CustomerStatus string

const (
	// CustomerPending marks a reservation made before the IdP account exists.
	CustomerPending CustomerStatus = "pending"
	// CustomerActive marks a customer linked to an IdP account.
	CustomerActive CustomerStatus = "active"
)

// Customer is the storefront's domain record for a signed-up shopper.
// ProviderUserID links the row to the IdP subject once activation succeeds.
type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID             string         `bun:"id,pk"`
	Email          string         `bun:"email,notnull,unique"`
	ProviderUserID *string        `bun:"provider_user_id,unique"`
	FirstName      string         `bun:"first_name,notnull"`
	LastName       string         `bun:"last_name,notnull"`
	Phone          string         `bun:"phone"`
	MarketingOptIn bool           `bun:"marketing_opt_in,notnull,default:false"`
	Status         CustomerStatus `bun:"status,notnull"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
	ActivatedAt    *time.Time     `bun:"activated_at"`
}

// Active reports whether the customer completed sign-up.
func (c *Customer) Active() bool {
	return c != nil && c.Status == CustomerActive
}
