package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"tiedye/internal/models"
)

type Storage struct {
	db   *sqlx.DB
	pool *pgxpool.Pool // nil unless the pgx driver is used
}

// New opens the database named by cfg and applies pending migrations.
func New(ctx context.Context, cfg models.DatabaseConfig) (*Storage, error) {
	const op = "storage.New"

	s := &Storage{}
	switch cfg.Driver {
	case "pgx":
		pcfg, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if cfg.MaxConns > 0 {
			pcfg.MaxConns = int32(cfg.MaxConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.pool = pool
		s.db = sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	case "postgres", "sqlite3":
		db, err := sqlx.Open(cfg.Driver, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if cfg.Driver == "sqlite3" {
			// One writer at a time; concurrent units queue on the pool.
			db.SetMaxOpenConns(1)
		} else if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		s.db = db
	default:
		return nil, fmt.Errorf("%s: unsupported driver %q", op, cfg.Driver)
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := runMigrations(s.db.DB, cfg.Driver); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// NewFromDB wraps an already opened connection without migrating it.
func NewFromDB(db *sql.DB, driver string) *Storage {
	return &Storage{db: sqlx.NewDb(db, driver)}
}

func (s *Storage) DB() *sqlx.DB { return s.db }

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &models.TransientStoreError{Op: "storage.Ping", Err: err}
	}
	return nil
}

func (s *Storage) Close() {
	s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}
