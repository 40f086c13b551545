package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/syncfm/resolver/internal/adapters/catalog"
	handler "github.com/syncfm/resolver/internal/adapters/http"
	redisadapter "github.com/syncfm/resolver/internal/adapters/redis"
	"github.com/syncfm/resolver/internal/adapters/sqlite"
	"github.com/syncfm/resolver/internal/apikey"
	"github.com/syncfm/resolver/internal/app"
	"github.com/syncfm/resolver/internal/config"
	"github.com/syncfm/resolver/internal/domain"
	"github.com/syncfm/resolver/internal/ratelimit"

	_ "github.com/syncfm/resolver/docs"
)

// @title			SyncFM Resolver API
// @version		1.0
// @description	Resolves music links across streaming services (Spotify, YouTube Music, Apple Music).
// @description	Supports subdomain aliases, shortcodes and batch conversion.

// @contact.name	SyncFM API Support
// @license.name	MIT

// @host		localhost:3000
// @BasePath	/

// @securityDefinitions.apikey	APIKeyAuth
// @in							header
// @name						X-API-Key
// @description				API key issued by the keys endpoint (e.g. "sfm_...")
func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "resolver").
		Logger()

	counters, err := redisadapter.NewCounterStore(redisadapter.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer counters.Close()

	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open credential store")
	}
	defer store.Close()

	if err := bootstrapAPIKey(store, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap API key")
	}

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogAPIToken, &http.Client{})
	service := app.NewService(catalogClient, store, logger, cfg.DefaultConversionService, cfg.ConvertWorkers)
	limiter := ratelimit.New(counters, logger)

	r := gin.New()
	r.Use(gin.Recovery())

	// Host classification runs before every route, including re-dispatches.
	subdomains := handler.NewSubdomainRouter(r, catalogClient, cfg.RootDomain, logger)
	r.Use(subdomains.Middleware())

	h := handler.NewHandler(service, store, limiter, cfg, logger)
	h.RegisterRoutes(r)

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	addr := ":" + cfg.Port
	logger.Info().
		Str("addr", addr).
		Str("root_domain", cfg.RootDomain).
		Int("workers", cfg.ConvertWorkers).
		Str("default_service", string(cfg.DefaultConversionService)).
		Msg("starting resolver API")

	if err := r.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

// bootstrapAPIKey generates an initial admin key when the store holds no
// active keys, so a fresh deployment can reach the key management endpoints.
// The plaintext is logged exactly once and never stored.
func bootstrapAPIKey(store *sqlite.Store, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := store.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		return nil
	}

	generated, err := apikey.Generate()
	if err != nil {
		return err
	}

	rec := domain.APIKeyRecord{
		ID:        uuid.NewString(),
		Name:      "bootstrap",
		KeyHash:   generated.Hash,
		KeyPrefix: generated.DisplayPrefix,
		Tier:      domain.TierEnterprise,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Insert(ctx, rec); err != nil {
		return err
	}

	logger.Warn().
		Str("id", rec.ID).
		Str("key", generated.Key).
		Msg("no active API keys found, generated a bootstrap key (shown once)")
	return nil
}
