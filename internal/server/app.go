// Package server wires configuration, storage and transports into the
// sessionkeeper server application.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/instrumentation"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/tokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/tokenstore"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

const redisKeyPrefix = "sk:rt:"

type App struct {
	config  *config.Config
	logger  logging.Logger
	inst    *instrumentation.Instrumentation
	users   users.Repository
	auth    *services.AuthService
	login   *ratelimit.Limiter
	refresh *ratelimit.Limiter
	closers []func() error
}

// NewApp opens the configured stores, runs migrations when Postgres is in use
// and builds the auth service. Close releases what NewApp opened.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(logging.Format(c.LogFormat), c.LogLevel, os.Stdout)

	app := &App{config: c, logger: logger, inst: instrumentation.Noop()}

	userRepo, store, err := app.openStores(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.users = userRepo

	authority := tokens.NewAuthority(store, c.RefreshTokenValidityDuration,
		tokens.WithLogger(logger),
		tokens.WithInstrumentation(app.inst),
	)
	issuer := auth.NewIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration)
	app.auth = services.NewAuthService(userRepo, authority, issuer, logger)

	if c.RateLimitEnabled {
		app.login = ratelimit.New(ratelimit.Login, ratelimit.DefaultMaxEntries, logger)
		app.refresh = ratelimit.New(ratelimit.Refresh, ratelimit.DefaultMaxEntries, logger)
	}

	if err := app.seedUser(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

func (app *App) openStores(ctx context.Context) (users.Repository, tokens.Store, error) {
	c := app.config

	if c.StoreBackend == config.StoreMemory {
		app.logger.Warn(ctx, "using in-memory stores, state is lost on restart")
		return users.NewMemoryRepository(), tokenstore.NewMemory(), nil
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, db.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}

	userRepo := rm.Users(db)

	if c.StoreBackend == config.StoreRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		app.closers = append(app.closers, rdb.Close)

		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return userRepo, tokenstore.NewRedis(rdb, redisKeyPrefix, tokenstore.DefaultRetention), nil
	}

	return userRepo, tokenstore.NewPostgres(db, rm), nil
}

// seedUser creates the configured user unless it already exists.
func (app *App) seedUser(ctx context.Context) error {
	c := app.config
	repo := app.users
	if c.SeedEmail == "" {
		return nil
	}

	_, err := repo.GetByEmail(ctx, services.NormalizeEmail(c.SeedEmail))
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("seed user lookup: %w", err)
	}

	if _, err := app.auth.Register(ctx, c.SeedEmail, "", "admin", []byte(c.SeedPassword)); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	app.logger.Info(ctx, "seed user created", "email", services.NormalizeEmail(c.SeedEmail))
	return nil
}

// Close releases database and Redis connections.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.auth,
		gs.WithRateLimits(app.login, app.refresh),
		gs.WithInstrumentation(app.inst),
	)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.auth,
		httpapi.WithRateLimits(app.login, app.refresh),
		httpapi.WithInstrumentation(app.inst),
	)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a termination signal arrives or a
// server fails to start.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "store", app.config.StoreBackend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.EndpointAddrHTTP != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHTTPServer(ctx, cancelFunc)
		}()
	}

	for _, l := range []*ratelimit.Limiter{app.login, app.refresh} {
		if l == nil {
			continue
		}
		wg.Add(1)
		go func(l *ratelimit.Limiter) {
			defer wg.Done()
			l.RunCleanup(ctx, ratelimit.DefaultCleanupInterval, ratelimit.DefaultMaxIdle)
		}(l)
	}

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(context.Background(), "close", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
