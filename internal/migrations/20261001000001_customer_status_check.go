package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// up_20261001000001 constrains customers.status on PostgreSQL. SQLite cannot add a CHECK
// constraint to an existing table, so the repository is the only guard there.
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	if !supportsAlterConstraint(db) {
		return nil
	}

	fmt.Print(" [up] adding customers status check...")
	_, err := db.ExecContext(ctx, `
		ALTER TABLE customers
		ADD CONSTRAINT customers_status_check CHECK (status IN ('pending', 'active'))
	`)
	if err != nil {
		return fmt.Errorf("failed to add customers status check: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000001 removes the status check
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	if !supportsAlterConstraint(db) {
		return nil
	}

	fmt.Print(" [down] dropping customers status check...")
	_, err := db.ExecContext(ctx, `ALTER TABLE customers DROP CONSTRAINT IF EXISTS customers_status_check`)
	if err != nil {
		return fmt.Errorf("failed to drop customers status check: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
