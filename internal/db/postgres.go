package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/wuwenbin0122/credauth/internal/db/migrations"
	"github.com/wuwenbin0122/credauth/internal/models"
	"github.com/wuwenbin0122/credauth/internal/utils"
)

// ErrAmbiguousUser means more than one stored user matches an email.
var ErrAmbiguousUser = errors.New("ambiguous match: more than one user has this email")

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

// Migrate applies the embedded goose migrations through a database/sql view of
// the pool.
func (p *Postgres) Migrate(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	sqlDB := stdlib.OpenDBFromPool(p.Pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}

	return nil
}

const (
	userByEmailExact = `SELECT * FROM users WHERE email = $1 LIMIT 2`
	userByEmailFold  = `SELECT * FROM users WHERE lower(email) = lower($1) LIMIT 2`
)

// querier is the subset of *pgxpool.Pool used for lookups.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresUsers reads user records from the users table.
type PostgresUsers struct {
	db       querier
	foldCase bool
}

// NewPostgresUsers returns a user store. With foldCase set, emails are matched
// case-insensitively; otherwise the column's own equality applies.
func NewPostgresUsers(pg *Postgres, foldCase bool) *PostgresUsers {
	s := &PostgresUsers{foldCase: foldCase}
	if pg != nil && pg.Pool != nil {
		s.db = pg.Pool
	}
	return s
}

func (s *PostgresUsers) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.db == nil {
		return nil, fmt.Errorf("postgres: pool not initialised")
	}

	query := userByEmailExact
	if s.foldCase {
		query = userByEmailFold
	}

	rows, err := s.db.Query(ctx, query, email)
	if err != nil {
		return nil, queryError(err)
	}

	fields, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case errors.Is(err, pgx.ErrTooManyRows):
		return nil, fmt.Errorf("postgres: query user by email: %w: %w", ErrAmbiguousUser, err)
	case err != nil:
		return nil, queryError(err)
	}

	user := models.UserFromFields(normalizeRow(fields))
	return &user, nil
}

func queryError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("postgres: users table missing, run migrations: %w", err)
	}
	return fmt.Errorf("postgres: query user by email: %w", err)
}

// normalizeRow converts driver-specific values into plain Go types.
func normalizeRow(fields map[string]any) map[string]any {
	for key, value := range fields {
		if raw, ok := value.([16]byte); ok {
			fields[key] = uuid.UUID(raw).String()
		}
	}
	return fields
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
