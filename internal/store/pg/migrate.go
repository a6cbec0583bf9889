package pg

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the logical schema. Schema migration tooling proper is
// out of scope (§1); this exists for local bring-up and integration tests.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pgpool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
