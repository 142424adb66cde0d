package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for database primary keys.
// Keys are generated in Go so SQLite and PostgreSQL schemas need no default function.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
