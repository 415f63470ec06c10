package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nicolasparada/go-db"
)

// Migrate applies every .sql file in fsys in lexical order inside one
// transaction. Statements are expected to be idempotent (IF NOT EXISTS).
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) error {
	db := db.New(pool)

	matches, err := fs.Glob(fsys, "**/*.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	slices.Sort(matches)

	return db.RunTx(ctx, func(ctx context.Context) error {
		for _, match := range matches {
			b, err := fs.ReadFile(fsys, match)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", match, err)
			}

			if _, err := db.Exec(ctx, string(b)); err != nil {
				return fmt.Errorf("exec migration %s: %w", match, err)
			}
		}

		return nil
	})
}
