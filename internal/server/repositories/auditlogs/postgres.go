package auditlogs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

const selectColumns = `id, actor_id, actor_role, action, target_type, target_id, success, ip, user_agent, metadata, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.AuditLogEntry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query :=
		`INSERT INTO audit_logs (id, actor_id, actor_role, action, target_type, target_id, success, ip, user_agent, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 `

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.TargetType, e.TargetID, e.Success, e.IP, e.UserAgent, string(metaJSON), e.Timestamp)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLogEntry, error) {
	query :=
		`SELECT ` + selectColumns + ` FROM audit_logs
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2
		 `

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.AuditLogEntry, error) {
	query :=
		`SELECT ` + selectColumns + ` FROM audit_logs
		 WHERE created_at >= $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]*models.AuditLogEntry, error) {
	defer rows.Close()

	var out []*models.AuditLogEntry
	for rows.Next() {
		var (
			e          models.AuditLogEntry
			actorID    sql.NullString
			targetType sql.NullString
			targetID   sql.NullString
			meta       []byte
		)
		if err := rows.Scan(&e.ID, &actorID, &e.ActorRole, &e.Action, &targetType, &targetID,
			&e.Success, &e.IP, &e.UserAgent, &meta, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if actorID.Valid {
			e.ActorID = &actorID.String
		}
		if targetType.Valid {
			e.TargetType = &targetType.String
		}
		if targetID.Valid {
			e.TargetID = &targetID.String
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
