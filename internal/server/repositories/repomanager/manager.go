package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/postboard/internal/dbx"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/admins"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/posts"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Posts(db dbx.DBTX) posts.Repository
	Attachments(db dbx.DBTX) attachments.Repository
	Admins(db dbx.DBTX) admins.Repository
}
