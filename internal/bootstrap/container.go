package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	app "github.com/mohammadpnp/contact-import/internal/application/importing"
	"github.com/mohammadpnp/contact-import/internal/config"
	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/blob"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/cache"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/crm"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/db"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/enrichment"
	infrafile "github.com/mohammadpnp/contact-import/internal/infrastructure/file"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/lease"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/ratelimit"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/repository"
)

// Container holds the wired use cases and the connections behind them.
type Container struct {
	Create  *app.CreateSession
	Enrich  *app.EnrichSession
	Sync    *app.SyncSession
	Queries *app.SessionQuery
	Delete  *app.DeleteSession
	Reaper  *app.RetentionReaper
	Runs    *app.RunRegistry

	closers []func()
}

// Close releases pools and clients in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build wires every component selected by cfg. On error anything already
// opened is closed.
func Build(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) (_ *Container, err error) {
	c := &Container{Runs: app.NewRunRegistry()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	var (
		gormDB *gorm.DB
		repo   domain.SessionRepository
	)
	switch cfg.StoreDriver {
	case "postgres":
		gormDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if sqlDB, dbErr := gormDB.DB(); dbErr == nil {
			c.closers = append(c.closers, func() { _ = sqlDB.Close() })
		}
		if err = db.Migrate(gormDB); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if cfg.BulkInsert {
			pool, poolErr := pgxpool.New(ctx, cfg.DatabaseURL)
			if poolErr != nil {
				return nil, fmt.Errorf("create pgx pool: %w", poolErr)
			}
			c.closers = append(c.closers, pool.Close)
			repo = repository.NewSessionRepository(gormDB, repository.NewSessionBulkRepository(pool))
		} else {
			repo = repository.NewSessionRepository(gormDB, nil)
		}
	default:
		repo = repository.NewMemorySessionRepository()
	}

	files, err := buildFileStore(ctx, cfg, gormDB)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		c.closers = append(c.closers, func() { _ = redisClient.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err = redisClient.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	var sessionLease app.SessionLease = lease.NewMemoryLease()
	if cfg.LeaseDriver == "redis" {
		sessionLease = lease.NewRedisLease(redisClient, lease.RedisLeaseConfig{TTL: cfg.LeaseTTL()}, logger)
	}

	limiter, err := buildLimiter(cfg, redisClient)
	if err != nil {
		return nil, err
	}

	tokens := buildTokens(cfg)
	client := crm.NewClient(crm.Options{
		BaseURL:   cfg.CRMBaseURL,
		Tokens:    tokens,
		UserAgent: "contact-import",
	})

	var backend cache.Backend = cache.NewMemoryBackend(nil)
	if cfg.PropertiesCache == "redis" {
		backend = cache.NewRedisBackend(redisClient, "")
	}
	cacheOpts := cache.Options{
		Backend: backend,
		Loader:  client,
		TTL:     cfg.PropertiesCacheTTL(),
		Logger:  logger,
	}
	if gormDB != nil {
		cacheOpts.Store = repository.NewPropertyRepository(gormDB)
	}
	properties := cache.NewPropertiesCache(cacheOpts)

	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}

	c.Create = app.NewCreateSession(app.CreateSessionDeps{
		Repo:   repo,
		Files:  files,
		Logger: logger,
		Config: app.CreateSessionConfig{
			Retention:  cfg.Retention(),
			MaxRetries: cfg.MaxRetries,
			MaxRows:    cfg.MaxRows,
		},
	})
	c.Enrich = app.NewEnrichSession(app.EnrichSessionDeps{
		Repo:     repo,
		Catalog:  catalog,
		Enricher: enrichment.NewEnricher(),
		Logger:   logger,
	})
	c.Sync = app.NewSyncSession(app.SyncSessionDeps{
		Repo:        repo,
		Processor:   app.NewRowProcessor(client, properties, app.RowProcessorConfig{FuzzyThreshold: cfg.FuzzyThreshold}),
		Credentials: tokens,
		Properties:  properties,
		Limiter:     limiter,
		Fallback:    ratelimit.NewFixedInterval(fallbackPause(cfg)),
		Lease:       sessionLease,
		Runs:        c.Runs,
		Logger:      logger,
	})
	c.Queries = app.NewSessionQuery(repo, files, nil)
	c.Delete = app.NewDeleteSession(repo, files, c.Runs, logger)
	c.Reaper = app.NewRetentionReaper(app.RetentionReaperDeps{Repo: repo, Files: files, Logger: logger})
	return c, nil
}

func buildFileStore(ctx context.Context, cfg config.FileConfig, gormDB *gorm.DB) (domain.FileStore, error) {
	switch cfg.FileStore {
	case "database":
		return repository.NewDatabaseFileStore(gormDB), nil
	case "local":
		return infrafile.NewLocalStore(cfg.FileDir), nil
	case "minio":
		store, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio store: %w", err)
		}
		return store, nil
	default:
		return repository.NewMemoryFileStore(), nil
	}
}

func buildLimiter(cfg config.FileConfig, client *redis.Client) (app.RateLimiter, error) {
	switch cfg.RateLimiter {
	case "token_bucket":
		return ratelimit.NewTokenBucket(cfg.RatePerSecond, cfg.RateBurst)
	case "redis":
		return ratelimit.NewRedisWindow(client, "", int(cfg.RatePerSecond), time.Second)
	default:
		return ratelimit.NewFixedInterval(cfg.SyncDelay()), nil
	}
}

// fallbackPause paces rows while the configured limiter is failing.
func fallbackPause(cfg config.FileConfig) time.Duration {
	if d := cfg.SyncDelay(); d > 0 {
		return d
	}
	if cfg.RatePerSecond > 0 {
		return time.Duration(float64(time.Second) / cfg.RatePerSecond)
	}
	return 100 * time.Millisecond
}

type tokenProvider interface {
	crm.TokenSource
	Refresh(ctx context.Context) (string, error)
}

func buildTokens(cfg config.FileConfig) tokenProvider {
	if cfg.CRMRefreshToken != "" {
		return crm.NewRefreshingTokenSource(crm.RefreshingTokenOptions{
			TokenURL:     cfg.CRMTokenURL,
			ClientID:     cfg.CRMClientID,
			ClientSecret: cfg.CRMClientSecret,
			RefreshToken: cfg.CRMRefreshToken,
		})
	}
	return crm.NewStaticTokenSource(cfg.CRMAccessToken)
}

func buildCatalog(cfg config.FileConfig) (*enrichment.Catalog, error) {
	if cfg.EnrichmentFile != "" {
		catalog, err := enrichment.LoadCatalogFile(cfg.EnrichmentFile)
		if err != nil {
			return nil, fmt.Errorf("enrichment catalog: %w", err)
		}
		return catalog, nil
	}
	return enrichment.NewCatalog(enrichment.DefaultConfigs())
}
