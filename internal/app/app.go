package app

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicechat"
	"voicechat/internal/clients"
	appconfig "voicechat/internal/config"
	httpserver "voicechat/internal/http"
	"voicechat/internal/http/handlers"
	"voicechat/internal/http/middleware"
	"voicechat/internal/password"
	"voicechat/internal/redisstore"
	"voicechat/internal/repository"
	"voicechat/internal/service"
	"voicechat/internal/ws"
	"voicechat/libs/db"
	libredis "voicechat/libs/redis"
)

// App wires dependencies for the voice-chat service.
type App struct {
	server *httpserver.Server
	db     *sql.DB
	redis  *goredis.Client
	logger *zap.Logger
}

// New builds the application graph: database (with migrations), optional
// redis, repositories, services, outbound clients and the HTTP surface.
func New(cfg *appconfig.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	migrationsFS, err := fs.Sub(voicechat.MigrationsFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.RunMigrations(cfg.Database.DSN, migrationsFS); err != nil {
		sqlDB.Close()
		return nil, err
	}

	var (
		redisClient *goredis.Client
		convCache   service.ConversationCache
	)
	redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	switch {
	case err == nil:
		convCache = redisstore.NewStore(redisClient, cfg.Redis.TTL)
	case errors.Is(err, libredis.ErrDisabled):
		// Without redis every relay call starts a fresh conversation.
		logger.Warn("redis not configured, conversation continuity disabled")
		redisClient = nil
	default:
		sqlDB.Close()
		return nil, err
	}

	userRepo := repository.NewUserRepository(sqlDB)
	creditsRepo := repository.NewCreditsRepository(sqlDB)
	sessionsRepo := repository.NewSessionsRepository(sqlDB)

	hasher := password.NewBcryptHasher(0)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret, cfg.JWTExpiration())
	authSvc := service.NewAuthService(userRepo, hasher, tokenSvc, logger)
	creditsSvc := service.NewCreditsService(creditsRepo, logger)

	storageClient := clients.NewMediaStorageClient(
		cfg.Storage.BaseURL,
		cfg.Storage.CloudName,
		cfg.Storage.APIKey,
		cfg.Storage.APISecret,
		cfg.Storage.Timeout,
		logger,
	)
	webhookClient := clients.NewWebhookClient(cfg.Webhook.URL, cfg.Webhook.Timeout, logger)

	hub := ws.NewHub()
	relaySvc := service.NewRelayService(
		storageClient,
		webhookClient,
		sessionsRepo,
		convCache,
		creditsSvc,
		hub,
		logger,
	)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Signup:     handlers.NewSignupHandler(authSvc),
		Login:      handlers.NewLoginHandler(authSvc),
		Credits:    handlers.NewCreditsHandler(creditsSvc),
		AudioRelay: handlers.NewAudioRelayHandler(relaySvc, cfg.Production(), logger),
		Events:     handlers.NewEventsHandler(hub, logger),
		Health:     handlers.NewHealthHandler(),
	}, middleware.AuthMiddleware(tokenSvc))

	server := httpserver.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	return &App{
		server: server,
		db:     sqlDB,
		redis:  redisClient,
		logger: logger,
	}, nil
}

// Run starts serving HTTP traffic until context cancellation.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases acquired resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
