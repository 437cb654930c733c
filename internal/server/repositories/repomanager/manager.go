// Package repomanager wires repository implementations to database handles.
// Repositories are constructed per DBTX so the same factory serves both
// direct connections and transactions.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/repositories/access"
	"github.com/everkeep/everkeep/internal/server/repositories/heirs"
	"github.com/everkeep/everkeep/internal/server/repositories/plans"
	"github.com/everkeep/everkeep/internal/server/repositories/refreshtokens"
	"github.com/everkeep/everkeep/internal/server/repositories/settings"
	"github.com/everkeep/everkeep/internal/server/repositories/triggers"
	"github.com/everkeep/everkeep/internal/server/repositories/users"
	"github.com/everkeep/everkeep/internal/server/repositories/vaults"
	"github.com/everkeep/everkeep/internal/server/repositories/verifications"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Heirs(db dbx.DBTX) heirs.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	Plans(db dbx.DBTX) plans.Repository
	Triggers(db dbx.DBTX) triggers.Repository
	Verifications(db dbx.DBTX) verifications.Repository
	Access(db dbx.DBTX) access.Repository
	Settings(db dbx.DBTX) settings.Repository
}
