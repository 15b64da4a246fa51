package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

// Migrate applies every pending goose migration in files. A Postgres session lock serialises
// concurrent callers across processes.
func Migrate(ctx context.Context, pool *pgxpool.Pool, files fs.FS, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	conn := stdlib.OpenDBFromPool(pool)
	defer conn.Close()

	provider, err := newProvider(conn, files)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: migrate: %w", err)
	}
	for _, res := range results {
		logger.Info("migration applied",
			slog.Int64("version", res.Source.Version),
			slog.String("file", res.Source.Path),
			slog.Duration("took", res.Duration),
		)
	}
	return nil
}

func newProvider(conn *sql.DB, files fs.FS) (*goose.Provider, error) {
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("platform/db: migration lock: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, conn, files, goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("platform/db: load migrations: %w", err)
	}
	return provider, nil
}
