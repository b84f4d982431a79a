package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/refreshtokens"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	RollbackMigration(context.Context, *sql.DB) error
	Credentials(db dbx.DBTX) credentials.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
