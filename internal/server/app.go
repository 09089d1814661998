// Package server wires configuration, storage, services and the HTTP API
// into a runnable application and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server/auth"
	"github.com/dmitrijs2005/medkeeper/internal/server/config"
	"github.com/dmitrijs2005/medkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/medkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/medkeeper/internal/server/services"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

var listen = net.Listen

// Services groups everything built on top of storage. cmd/seed reuses it.
type Services struct {
	Audit     *services.AuditLog
	Creds     *services.CredentialStore
	Login     *services.LoginService
	Reset     *services.ResetService
	Accounts  *services.AccountService
	AuditList *services.AuditQueryService
	Archive   *services.AuditArchiveService
	Tokens    *auth.TokenIssuer
}

// Close drains the audit queue.
func (s *Services) Close() {
	s.Audit.Close()
}

// NewServices builds the service graph over an open database.
func NewServices(c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) (*Services, error) {
	mode, err := cryptox.ParseDecryptMode(c.DecryptMode)
	if err != nil {
		return nil, err
	}
	cipher, err := cryptox.NewFieldCipherFromBase64(c.EncryptionKey, mode)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	audit := services.NewAuditLog(db, rm, logger, c.AuditBufferSize, c.AuditWriteTimeout)
	creds := services.NewCredentialStore(db, rm, c.BcryptCost, c.PasswordMaxAge)
	loginCodes := services.NewOneTimeCodeStore(db, rm, models.ChannelLogin, c.LoginCodeTTL)
	resetCodes := services.NewOneTimeCodeStore(db, rm, models.ChannelReset, c.ResetCodeTTL)
	tokens := auth.NewTokenIssuer(c.SecretKey, c.SessionTokenValidityDuration)
	ch := delivery.New(c, logger)

	return &Services{
		Audit:     audit,
		Creds:     creds,
		Login:     services.NewLoginService(creds, loginCodes, tokens, ch, audit, cipher, logger),
		Reset:     services.NewResetService(db, creds, resetCodes, ch, audit, cipher, logger),
		Accounts:  services.NewAccountService(db, rm, creds, cipher, audit, logger),
		AuditList: services.NewAuditQueryService(db, rm, audit, logger),
		Archive:   services.NewAuditArchiveService(db, rm, c, audit, logger),
		Tokens:    tokens,
	}, nil
}

// Storage is an open database plus the repository manager over it.
type Storage struct {
	DB    *sql.DB
	Repos repomanager.RepositoryManager
	redis *redis.Client
}

func (s *Storage) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.DB.Close())
	return errors.Join(errs...)
}

// OpenStorage connects to PostgreSQL (and Redis when configured) and runs
// migrations.
func OpenStorage(ctx context.Context, c *config.Config) (*Storage, error) {
	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &Storage{DB: db}

	var opts []repomanager.Option
	if c.CodeStoreBackend == config.CodeStoreRedis {
		s.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		opts = append(opts, repomanager.WithRedisCodes(s.redis, ""))
	}

	s.Repos, err = repomanager.NewPostgresRepositoryManager(opts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := s.Repos.RunMigrations(ctx, db); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	return s, nil
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	storage  *Storage
	services *Services
	server   *http.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	st, err := OpenStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	svc, err := NewServices(c, st.DB, st.Repos, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return newApp(c, logger, st, svc), nil
}

func newApp(c *config.Config, logger logging.Logger, st *Storage, svc *Services) *App {
	router := httpapi.NewRouter(c, httpapi.Deps{
		Login:    svc.Login,
		Reset:    svc.Reset,
		Profiles: svc.Accounts,
		Audit:    svc.AuditList,
		Archive:  svc.Archive,
		Tokens:   svc.Tokens,
	}, logger)

	return &App{
		config:   c,
		logger:   logger,
		storage:  st,
		services: svc,
		server: &http.Server{
			Addr:              c.EndpointAddrHTTP,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
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

// startHTTPServer serves until ctx is cancelled. It returns only after
// Shutdown has finished draining in-flight requests.
func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.server.Shutdown(sctx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)

	ln, err := listen("tcp", app.server.Addr)
	if err == nil {
		err = app.server.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}

	// Serve returns as soon as Shutdown starts; handlers may still be running.
	<-shutdownDone
}

// Run serves until ctx is cancelled or a termination signal arrives. Once
// in-flight requests have finished it drains the audit queue and closes
// storage.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.services.Close()
	if dropped := app.services.Audit.Dropped(); dropped > 0 {
		app.logger.Warn(ctx, "audit entries dropped", "count", dropped)
	}
	if err := app.storage.Close(); err != nil {
		app.logger.Error(ctx, "storage close error", "error", err)
	}

	app.logger.Info(ctx, "App stopped")
}
