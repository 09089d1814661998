// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
// One-time codes may optionally live in Redis instead.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/codes"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	redis       redis.UniversalClient
	redisPrefix string
}

// Option customizes a PostgresRepositoryManager.
type Option func(*PostgresRepositoryManager)

// WithRedisCodes stores one-time codes in Redis instead of PostgreSQL.
func WithRedisCodes(client redis.UniversalClient, prefix string) Option {
	return func(m *PostgresRepositoryManager) {
		m.redis = client
		m.redisPrefix = prefix
	}
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// Codes returns the code repository for channel. With Redis configured the
// DBTX is ignored and codes do not take part in SQL transactions.
func (m *PostgresRepositoryManager) Codes(db dbx.DBTX, channel models.Channel) codes.Repository {
	if m.redis != nil {
		return codes.NewRedisRepository(m.redis, m.redisPrefix, channel)
	}
	return codes.NewPostgresRepository(db, channel)
}

// AuditLogs returns an auditlogs.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) AuditLogs(db dbx.DBTX) auditlogs.Repository {
	return auditlogs.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(opts ...Option) (RepositoryManager, error) {
	m := &PostgresRepositoryManager{}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}
