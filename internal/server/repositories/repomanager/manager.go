package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/codes"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Codes(db dbx.DBTX, channel models.Channel) codes.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
}
