package repomanager

import (
	"context"
	"database/sql"

	"github.com/everkeep/everkeep/internal/dbx"
	"github.com/everkeep/everkeep/internal/server/migrations"
	"github.com/everkeep/everkeep/internal/server/repositories/access"
	"github.com/everkeep/everkeep/internal/server/repositories/heirs"
	"github.com/everkeep/everkeep/internal/server/repositories/plans"
	"github.com/everkeep/everkeep/internal/server/repositories/refreshtokens"
	"github.com/everkeep/everkeep/internal/server/repositories/settings"
	"github.com/everkeep/everkeep/internal/server/repositories/triggers"
	"github.com/everkeep/everkeep/internal/server/repositories/users"
	"github.com/everkeep/everkeep/internal/server/repositories/vaults"
	"github.com/everkeep/everkeep/internal/server/repositories/verifications"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// gooseUpContext is an indirection point for tests.
var gooseUpContext = goose.UpContext

type PostgresRepositoryManager struct {
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Heirs(db dbx.DBTX) heirs.Repository {
	return heirs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Vaults(db dbx.DBTX) vaults.Repository {
	return vaults.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Plans(db dbx.DBTX) plans.Repository {
	return plans.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Triggers(db dbx.DBTX) triggers.Repository {
	return triggers.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Verifications(db dbx.DBTX) verifications.Repository {
	return verifications.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Access(db dbx.DBTX) access.Repository {
	return access.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Settings(db dbx.DBTX) settings.Repository {
	return settings.NewPostgresRepository(db)
}

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

// OpenDB opens a pgx-backed database handle for the given DSN.
func OpenDB(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}
