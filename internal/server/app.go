// Package server initializes and runs the application server. It opens the
// database, applies migrations, wires the services and starts the HTTP API,
// handling graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/everkeep/everkeep/internal/logging"
	"github.com/everkeep/everkeep/internal/server/config"
	"github.com/everkeep/everkeep/internal/server/httpapi"
	"github.com/everkeep/everkeep/internal/server/repositories/repomanager"
	"github.com/everkeep/everkeep/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *httpapi.Server
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout)

	db, err := repomanager.OpenDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	us := services.NewUserService(db, rm, c)
	is := services.NewInvitationService(db, rm, c)
	vs := services.NewVaultService(db, rm, c)
	ps := services.NewPlanService(db, rm)
	as := services.NewAccessService(db, rm, &services.LogOfflineProcessor{Logger: logger}, logger)
	ts := services.NewTriggerService(db, rm, as, logger, c)
	ss := services.NewSweepService(is, ts, logger)

	srv := httpapi.NewServer(c.EndpointAddrHTTP, logger, us, is, vs, ps, ts, as, ss, c.SecretKey)

	return &App{config: c, logger: logger, db: db, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
