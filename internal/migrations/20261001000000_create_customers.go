package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/storefront-labs/gateway/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

// up_20261001000000 creates the customers table backing two-phase sign-up
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating customers table...")

	_, err := db.NewCreateTable().
		Model((*models.Customer)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create customers table: %w", err)
	}

	// Reconciliation scans pending rows by age
	_, err = db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_customers_status_created ON customers(status, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create customers status index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000000 drops the customers table
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping customers table...")

	_, err := db.NewDropTable().
		Model((*models.Customer)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop customers table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
