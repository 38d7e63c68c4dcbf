package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/womenscare/clinical-analysis/internal/application"
	appaiconfig "github.com/womenscare/clinical-analysis/internal/application/aiconfig"
	appanalysis "github.com/womenscare/clinical-analysis/internal/application/analysis"
	"github.com/womenscare/clinical-analysis/internal/config"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
	"github.com/womenscare/clinical-analysis/internal/domain/retrieval"
	"github.com/womenscare/clinical-analysis/internal/domain/runerrors"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/prompt"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/provider"
	"github.com/womenscare/clinical-analysis/internal/infra/ai/schema"
	mysqlp "github.com/womenscare/clinical-analysis/internal/infra/db/mysql"
	"github.com/womenscare/clinical-analysis/internal/infra/db/postgres"
	"github.com/womenscare/clinical-analysis/internal/infra/httpserver"
	"github.com/womenscare/clinical-analysis/internal/infra/metrics"
	"github.com/womenscare/clinical-analysis/internal/infra/retrieval/elastic"
	minioStore "github.com/womenscare/clinical-analysis/internal/infra/storage"
	"github.com/womenscare/clinical-analysis/internal/logger"
	"github.com/womenscare/clinical-analysis/internal/middleware"
)

// dependencyCheckTimeout bounds the object store and search checks.
const dependencyCheckTimeout = 3 * time.Second

type repositories struct {
	config    aiconfig.Repository
	analyses  analysis.Repository
	runErrors runerrors.Repository
}

func main() {
	config.LoadEnvFile()

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	db, repos, err := connect(ctx, cfg)
	if err != nil {
		log.Fatal("database init error", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer db.Close()

	checks := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}

	opts := []appanalysis.Option{
		appanalysis.WithPrices(cfg.Pricing),
		appanalysis.WithRetryPolicy(appanalysis.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		appanalysis.WithClock(application.SystemClock{}),
		appanalysis.WithMetrics(metrics.Recorder{}),
		appanalysis.WithLogger(log.Named("analysis")),
	}

	// init minio
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatal("minio init error", zap.Error(err))
		}
		opts = append(opts, appanalysis.WithTranscripts(store))
		checks["minio"] = middleware.WithTimeout(middleware.CheckerFunc(store.Check), dependencyCheckTimeout)
	}

	var searcher retrieval.Searcher = retrieval.Nop{}
	if cfg.Retrieval.Enabled {
		openaiBase := cfg.Providers[string(aiconfig.ProviderOpenAI)].BaseURL
		es, err := elastic.New(elastic.Config{
			Addresses:     cfg.Retrieval.Addresses,
			Username:      cfg.Retrieval.Username,
			Password:      cfg.Retrieval.Password,
			APIKey:        cfg.Retrieval.APIKey,
			Index:         cfg.Retrieval.Index,
			NumCandidates: cfg.Retrieval.NumCandidates,
			CacheSize:     cfg.Retrieval.CacheSize,
			CacheTTL:      cfg.Retrieval.CacheTTL,
		}, elastic.NewOpenAIEmbedder(cfg.Retrieval.EmbeddingAPIKey, openaiBase, cfg.Retrieval.EmbeddingModel), log.Named("retrieval"))
		if err != nil {
			log.Fatal("elasticsearch init error", zap.Error(err))
		}
		searcher = es
		checks["elasticsearch"] = middleware.WithTimeout(middleware.CheckerFunc(es.Check), dependencyCheckTimeout)
	}
	opts = append(opts, appanalysis.WithRetrieval(searcher))

	settings := make(map[aiconfig.Provider]provider.Settings, len(cfg.Providers))
	for name, p := range cfg.Providers {
		settings[aiconfig.Provider(name)] = provider.Settings{Timeout: p.Timeout, BaseURL: p.BaseURL}
	}
	factory := provider.NewFactory(settings, log.Named("provider"))

	configSvc := appaiconfig.NewService(repos.config, defaultsWithEnvKeys, application.SystemClock{}, log.Named("aiconfig"))
	analysisSvc := appanalysis.NewService(appanalysis.Deps{
		Repo:      repos.analyses,
		RunErrors: repos.runErrors,
		Providers: factory,
		Parser:    schema.MustParser(),
	}, opts...)

	// seed the singleton so the first run does not race the admin UI
	if _, err := configSvc.Get(ctx); err != nil {
		log.Fatal("ai config init error", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond)
	stopSweep := make(chan struct{})
	go limiter.RunSweeper(5*time.Minute, stopSweep)
	defer close(stopSweep)

	handler := httpserver.NewRouter(httpserver.Deps{
		Config:      configSvc,
		Analyses:    analysisSvc,
		Log:         log.Named("http"),
		TenantKeys:  cfg.Auth.TenantKeys,
		AdminKey:    cfg.Auth.AdminKey,
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Checks:      checks,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}

func connect(ctx context.Context, cfg *config.Config) (*sql.DB, repositories, error) {
	maxOpen, maxIdle := cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN(), maxOpen, maxIdle)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := mysqlp.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			config:    mysqlp.NewAIConfigRepository(db),
			analyses:  mysqlp.NewAnalysisRepository(db),
			runErrors: mysqlp.NewRunErrorRepository(db),
		}, nil
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN(), maxOpen, maxIdle)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			config:    postgres.NewAIConfigRepository(db),
			analyses:  postgres.NewAnalysisRepository(db),
			runErrors: postgres.NewRunErrorRepository(db),
		}, nil
	}
}

// defaultsWithEnvKeys seeds provider keys from the environment on first
// start; afterwards they are managed through the admin API.
func defaultsWithEnvKeys() (*aiconfig.GlobalAIConfig, error) {
	cfg, err := prompt.DefaultConfig()
	if err != nil {
		return nil, err
	}
	for p, env := range map[aiconfig.Provider]string{
		aiconfig.ProviderOpenAI:    "OPENAI_API_KEY",
		aiconfig.ProviderAnthropic: "ANTHROPIC_API_KEY",
		aiconfig.ProviderGoogle:    "GOOGLE_API_KEY",
	} {
		if v := os.Getenv(env); v != "" {
			cfg.APIKeys[p] = v
		}
	}
	return cfg, nil
}
