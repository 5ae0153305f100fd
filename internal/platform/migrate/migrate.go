// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Up applies every pending migration against dsn.
func Up(ctx context.Context, dsn string, logger *slog.Logger) error {
	return run(ctx, dsn, logger, func(ctx context.Context, sqlDB gooseDB) error {
		return goose.UpContext(ctx, sqlDB, "migrations")
	})
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, dsn string, logger *slog.Logger) error {
	return run(ctx, dsn, logger, func(ctx context.Context, sqlDB gooseDB) error {
		return goose.DownContext(ctx, sqlDB, "migrations")
	})
}

// Status logs the state of every migration.
func Status(ctx context.Context, dsn string, logger *slog.Logger) error {
	return run(ctx, dsn, logger, func(ctx context.Context, sqlDB gooseDB) error {
		return goose.StatusContext(ctx, sqlDB, "migrations")
	})
}

type gooseDB = *sql.DB

func run(ctx context.Context, dsn string, logger *slog.Logger, fn func(context.Context, gooseDB) error) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrate: open: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: dialect: %w", err)
	}
	if logger != nil {
		goose.SetLogger(slogAdapter{logger: logger})
	}
	if err := fn(ctx, sqlDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.logger.Info(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Fatalf(format string, v ...any) {
	a.logger.Error(fmt.Sprintf(format, v...))
}
