// Package auditlogs persists the append-only audit trail. Entries are never
// updated or deleted through this package.
package auditlogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	// List returns entries newest first.
	List(ctx context.Context, limit, offset int) ([]*models.AuditLogEntry, error)
	Count(ctx context.Context) (int64, error)
	// ListSince returns up to limit entries at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.AuditLogEntry, error)
}
