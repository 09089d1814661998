package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
)

const (
	DefaultAuditPageSize = 50
	MaxAuditPageSize     = 200
)

// AuditPage is one page of the audit trail, newest first.
type AuditPage struct {
	Entries    []*models.AuditLogEntry `json:"entries"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	Limit      int                     `json:"limit"`
	TotalPages int64                   `json:"totalPages"`
}

// AuditQueryService serves the privileged audit listing.
type AuditQueryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	audit       AuditWriter
	logger      logging.Logger
}

func NewAuditQueryService(db *sql.DB, m repomanager.RepositoryManager, audit AuditWriter, logger logging.Logger) *AuditQueryService {
	return &AuditQueryService{db: db, repomanager: m, audit: audit, logger: logger.With("module", "auditlogs")}
}

// NormalizePage applies defaults (page 1, limit 50) and caps limit.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultAuditPageSize
	}
	if limit > MaxAuditPageSize {
		limit = MaxAuditPageSize
	}
	return page, limit
}

// List returns a page of entries and the total count from one snapshot.
func (s *AuditQueryService) List(ctx context.Context, meta RequestMeta, page, limit int) (*AuditPage, error) {
	page, limit = NormalizePage(page, limit)

	res := &AuditPage{Page: page, Limit: limit, Entries: []*models.AuditLogEntry{}}

	err := dbx.WithTx(ctx, s.db, dbx.ReadOnlySnapshot(), func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.AuditLogs(tx)

		total, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		entries, err := repo.List(ctx, limit, (page-1)*limit)
		if err != nil {
			return err
		}

		res.Total = total
		if entries != nil {
			res.Entries = entries
		}
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "audit list failed", "error", err)
		s.writeFetchAudit(ctx, meta, false)
		return nil, common.ErrorInternal
	}

	res.TotalPages = (res.Total + int64(limit) - 1) / int64(limit)
	s.writeFetchAudit(ctx, meta, true)

	return res, nil
}

func (s *AuditQueryService) writeFetchAudit(ctx context.Context, meta RequestMeta, success bool) {
	e := models.AuditLogEntry{
		ActorRole:  common.UnknownActor,
		Action:     models.ActionFetchAuditLogs,
		TargetType: strPtr("AUDIT_LOG"),
		Success:    success,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if meta.Actor != nil {
		e.ActorID = strPtr(meta.Actor.ID)
		e.ActorRole = string(meta.Actor.Role)
	}
	s.audit.Write(ctx, e)
}
