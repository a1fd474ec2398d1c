// Package app assembles the services shared by the API server, the worker and
// the CLI from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/api"
	"github.com/dharsanguruparan/VaultShop/internal/catalog"
	"github.com/dharsanguruparan/VaultShop/internal/config"
	"github.com/dharsanguruparan/VaultShop/internal/database"
	"github.com/dharsanguruparan/VaultShop/internal/entitlement"
	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/events"
	"github.com/dharsanguruparan/VaultShop/internal/identity"
	"github.com/dharsanguruparan/VaultShop/internal/ledger"
	"github.com/dharsanguruparan/VaultShop/internal/metrics"
	"github.com/dharsanguruparan/VaultShop/internal/migration"
	"github.com/dharsanguruparan/VaultShop/internal/model"
	"github.com/dharsanguruparan/VaultShop/internal/payment"
	"github.com/dharsanguruparan/VaultShop/internal/purchase"
	"github.com/dharsanguruparan/VaultShop/internal/queue"
	"github.com/dharsanguruparan/VaultShop/internal/ratelimit"
	"github.com/dharsanguruparan/VaultShop/internal/repository"
	"github.com/dharsanguruparan/VaultShop/internal/repository/postgres"
	"github.com/dharsanguruparan/VaultShop/internal/s3storage"
	"github.com/dharsanguruparan/VaultShop/internal/signing"
	"github.com/dharsanguruparan/VaultShop/internal/storage"
)

// App holds every wired component.
type App struct {
	Config *config.Config
	Log    *zap.Logger

	DB        *postgres.DB
	Assets    repository.AssetRepository
	Intents   repository.IntentRepository
	Purchases repository.PurchaseRepository

	Storage  *storage.Router
	Metrics  *metrics.Metrics
	Events   events.Publisher
	Identity identity.Chain
	Redis    *redis.Client
	Queue    *asynq.Client

	Catalog     *catalog.Service
	Ledger      *ledger.Service
	Payments    *purchase.Service
	Entitlement *entitlement.Controller
	Migrator    *migration.Migrator
}

// NewLogger builds the process logger.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New connects to the configured infrastructure and wires the services.
// Without a database URL the repositories live in memory. Without a reachable
// Redis the download limiter is disabled and migrations cannot be queued.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = postgres.NewDB(pool)
		a.Assets = postgres.NewAssetRepo(a.DB)
		a.Intents = postgres.NewIntentRepo(a.DB)
		a.Purchases = postgres.NewPurchaseRepo(a.DB)
	} else {
		log.Warn("no database url configured, using in-memory repositories")
		mem := repository.NewMemoryStore()
		a.Assets, a.Intents, a.Purchases = mem.Assets(), mem.Intents(), mem.Purchases()
	}

	if a.Storage, err = newRouter(ctx, cfg, log); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)

	if len(cfg.KafkaBrokers) > 0 {
		if a.Events, err = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
			return nil, err
		}
	} else {
		a.Events = events.NewLogPublisher(log)
	}

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.RedisAddr != "" {
		client, rerr := ratelimit.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if rerr != nil {
			log.Warn("redis unavailable, download rate limit and job queue disabled", zap.Error(rerr))
		} else {
			a.Redis = client
			limiter = ratelimit.NewRedis(client, "vaultshop:downloads", cfg.DownloadRateLimit, time.Minute)
			a.Queue = asynq.NewClient(RedisOpt(cfg))
		}
	}

	a.Identity = identity.Chain{
		identity.NewBearerProvider(cfg.JWTSecret),
		identity.NewSessionProvider(signing.NewSigner(cfg.SessionSecret)),
	}

	gateway := payment.NewClient(payment.Options{
		BaseURL:   cfg.GatewayBaseURL,
		SecretKey: cfg.GatewaySecretKey,
		Timeout:   cfg.GatewayTimeout,
		Retries:   cfg.GatewayRetries,
	}, &http.Client{Timeout: cfg.GatewayTimeout}, log.Named("gateway"))

	a.Catalog = catalog.New(a.Assets, a.Storage, log.Named("catalog"))
	a.Ledger = ledger.New(a.Intents, a.Assets, cfg.IntentTTL, log.Named("ledger")).WithMetrics(a.Metrics)
	a.Payments = purchase.New(purchase.Deps{
		Intents:   a.Intents,
		Purchases: a.Purchases,
		Gateway:   gateway,
		Terms:     model.PurchaseTerms{DownloadLimit: cfg.DownloadLimit, Window: cfg.EntitlementWindow},
		Events:    a.Events,
		Metrics:   a.Metrics,
		Log:       log.Named("purchase"),
	})
	a.Entitlement = entitlement.New(entitlement.Deps{
		Assets:       a.Assets,
		Purchases:    a.Purchases,
		Storage:      a.Storage,
		Limiter:      limiter,
		Recorder:     a.Catalog,
		Events:       a.Events,
		Metrics:      a.Metrics,
		Log:          log.Named("entitlement"),
		ResumeWindow: cfg.ResumeWindow,
	})
	a.Migrator = migration.New(a.Assets, a.Storage, a.Events, a.Metrics, log.Named("migration"))
	return a, nil
}

// RedisOpt is the asynq connection derived from the config.
func RedisOpt(cfg *config.Config) asynq.RedisConnOpt {
	if opt, err := asynq.ParseRedisURI(cfg.RedisAddr); err == nil {
		return opt
	}
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func newRouter(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage.Router, error) {
	var backends []storage.Backend
	if cfg.LocalContentDir != "" {
		local, err := storage.NewLocal(config.BackendLocal, cfg.LocalContentDir)
		if err != nil {
			return nil, err
		}
		backends = append(backends, local)
	}
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		remote, err := s3storage.New(s3storage.Options{
			Name:      config.BackendS3,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			URLTTL:    cfg.SignedURLTTL,
		})
		if err != nil {
			return nil, err
		}
		if err := remote.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		backends = append(backends, remote)
	}
	return storage.NewRouter(storage.RouterConfig{
		Active:  cfg.StorageBackend,
		Timeout: cfg.StorageTimeout,
		Retries: cfg.StorageRetries,
	}, log.Named("storage"), backends...)
}

// API builds the HTTP server.
func (a *App) API() *api.Server {
	return api.New(api.Deps{
		Catalog:           a.Catalog,
		Ledger:            a.Ledger,
		Purchases:         a.Payments,
		Downloads:         a.Entitlement,
		Identity:          a.Identity,
		Metrics:           a.Metrics,
		Ready:             a.Ready,
		ScheduleMigration: a.ScheduleMigration,
		Log:               a.Log.Named("api"),
		Address:           a.Config.Address,
		MaxUploadBytes:    a.Config.MaxUploadBytes,
	})
}

// Ready pings the database and every storage backend.
func (a *App) Ready(ctx context.Context) map[string]error {
	out := map[string]error{}
	if a.DB != nil {
		out["database"] = a.DB.Ping(ctx)
	}
	health := a.Storage.Health(ctx)
	for _, name := range a.Storage.Names() {
		out["storage:"+name] = health[name]
	}
	if a.Redis != nil {
		out["redis"] = a.Redis.Ping(ctx).Err()
	}
	return out
}

// ScheduleMigration enqueues one migrate-asset task per asset stored on from.
func (a *App) ScheduleMigration(ctx context.Context, from, to string) (int, error) {
	if a.Queue == nil {
		return 0, errors.New("job queue unavailable: redis is not connected")
	}
	if from == to {
		return 0, fmt.Errorf("%w: source and target backend are both %q", errs.ErrValidation, from)
	}
	for _, name := range []string{from, to} {
		if _, err := a.Storage.Backend(name); err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrValidation, err)
		}
	}
	return EnqueueMigrations(ctx, a.Migrator, a.Queue, from, to)
}

// AssetLister pages through the assets stored on a backend.
type AssetLister interface {
	ForEach(ctx context.Context, backend string, fn func(model.Asset) error) error
}

// EnqueueMigrations queues one task per asset on from and returns how many
// were queued. Task ids make a repeated call a no-op for pending tasks.
func EnqueueMigrations(ctx context.Context, assets AssetLister, q queue.Enqueuer, from, to string) (int, error) {
	n := 0
	err := assets.ForEach(ctx, from, func(asset model.Asset) error {
		if err := queue.EnqueueMigrateAsset(ctx, q, queue.MigratePayload{AssetID: asset.ID, To: to}); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Log.Warn("close queue client", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			a.Log.Warn("close event publisher", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
