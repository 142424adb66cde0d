package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// supportsAlterConstraint reports whether the dialect can add constraints to an existing
// table. Only PostgreSQL can; SQLite needs a table rebuild.
func supportsAlterConstraint(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}
