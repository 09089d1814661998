package codes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

// TableFor maps a channel to its table.
func TableFor(channel models.Channel) (string, error) {
	switch channel {
	case models.ChannelLogin:
		return "login_codes", nil
	case models.ChannelReset:
		return "password_reset_codes", nil
	}
	return "", fmt.Errorf("unknown code channel %q", channel)
}

type PostgresRepository struct {
	db    dbx.DBTX
	table string
}

// NewPostgresRepository binds a repository to the table of channel.
// It panics on an unknown channel, which is a programming error.
func NewPostgresRepository(db dbx.DBTX, channel models.Channel) *PostgresRepository {
	table, err := TableFor(channel)
	if err != nil {
		panic(err)
	}
	return &PostgresRepository{db: db, table: table}
}

func (r *PostgresRepository) Upsert(ctx context.Context, code *models.OneTimeCode) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (user_id, code, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at
		 `, r.table)

	if _, err := r.db.ExecContext(ctx, query, code.UserID, code.Code, code.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, userID string) (*models.OneTimeCode, error) {
	query := fmt.Sprintf(
		`SELECT user_id, code, expires_at FROM %s
		 WHERE user_id = $1
		 `, r.table)

	c := &models.OneTimeCode{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Code, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) DeleteIfMatch(ctx context.Context, userID, code string, expiresAt time.Time) (bool, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s
		 WHERE user_id = $1 AND code = $2 AND expires_at = $3
		 `, r.table)

	res, err := r.db.ExecContext(ctx, query, userID, code, expiresAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}
