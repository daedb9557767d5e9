package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// gooseDialect maps a database/sql driver name onto the goose dialect and
// the migrations directory written for it.
func gooseDialect(driver string) (string, error) {
	switch driver {
	case "pgx", "postgres":
		return "postgres", nil
	case "sqlite3":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

func runMigrations(db *sql.DB, driver string) error {
	const op = "storage.migrations"

	dialect, err := gooseDialect(driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = goose.Up(db, path.Join("migrations", dialect))
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
