package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/localbiz/membership/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. Statements run in one round trip
// over the simple protocol.
func Migrate(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
