package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/api"
	"github.com/abhiyan52/ClarityQL/internal/api/uistatic"
	"github.com/abhiyan52/ClarityQL/internal/auth"
	"github.com/abhiyan52/ClarityQL/internal/compiler"
	"github.com/abhiyan52/ClarityQL/internal/config"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
	conversationpostgres "github.com/abhiyan52/ClarityQL/internal/conversation/postgres"
	"github.com/abhiyan52/ClarityQL/internal/dataset"
	"github.com/abhiyan52/ClarityQL/internal/maintenance"
	"github.com/abhiyan52/ClarityQL/internal/migrations"
	"github.com/abhiyan52/ClarityQL/internal/nl2sql"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	"github.com/abhiyan52/ClarityQL/internal/pipeline"
	"github.com/abhiyan52/ClarityQL/internal/query"
	duckdbengine "github.com/abhiyan52/ClarityQL/internal/query/duckdb"
	"github.com/abhiyan52/ClarityQL/internal/schema"
	"github.com/abhiyan52/ClarityQL/internal/storage"
	s3store "github.com/abhiyan52/ClarityQL/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("clarityql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := loadRegistry(cfg)
	if err != nil {
		logger.Error("failed to load schema registry", slog.Any("error", err))
		os.Exit(1)
	}
	placeholder, err := compiler.ParsePlaceholder(cfg.Compiler.Placeholder)
	if err != nil {
		logger.Error("invalid compiler placeholder", slog.Any("error", err))
		os.Exit(1)
	}
	runner := pipeline.New(reg, compiler.New(reg, compiler.Options{Placeholder: placeholder}), logger)

	var (
		store       conversation.Store
		purger      maintenance.StatePurger
		auditor     conversation.Auditor
		audit       maintenance.AuditPurger
		storeReady  api.ReadinessCheck
		schemaReady api.ReadinessCheck
	)
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db, err := conversationpostgres.Open(ctx, conversationpostgres.DBConfig{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open conversation store", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		pgStore := conversationpostgres.NewStore(db, cfg.Conversation.MaxAge)
		store, purger, auditor, audit = pgStore, pgStore, pgStore, pgStore
		storeReady = pgStore.HealthCheck
		schemaRunner := migrations.NewRunner()
		schemaReady = func(ctx context.Context) error { return schemaRunner.Current(ctx, db) }
	default:
		memStore := conversation.NewMemoryStore(cfg.Conversation.MaxAge, cfg.Conversation.MaxConversations)
		store, purger = memStore, memStore
	}

	serviceOpts := []conversation.Option{conversation.WithLogger(logger)}
	if auditor != nil {
		serviceOpts = append(serviceOpts, conversation.WithAuditor(auditor))
	}
	conversations := conversation.NewService(store, runner, serviceOpts...)

	deps := api.Dependencies{
		Logger:            logger,
		Registry:          reg,
		Compiler:          runner,
		Conversations:     conversations,
		UI:                uistatic.Handler(),
		DependencyTimeout: time.Second,
		Readiness: api.CombineReadinessChecks(
			storeReady,
			schemaReady,
			api.CheckObjectStoreConfig(cfg),
		),
	}

	if cfg.Execution.Enabled {
		objectStore, err := openObjectStore(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.QueryEngine = duckdbengine.NewEngine(objectStore)
		deps.Files = func(ctx context.Context, tables []string) ([]query.TableFile, error) {
			return dataset.Files(ctx, objectStore, cfg.ObjectStore.Dataset, tables)
		}
	}

	if cfg.AI.ParseEnabled {
		parser, err := nl2sql.NewOpenAIParser(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		}, reg)
		if err != nil {
			logger.Error("failed to initialize question parser", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Parser = parser
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	retention := &maintenance.Service{
		States: purger,
		Config: maintenance.Config{
			RetentionInterval: cfg.Conversation.RetentionInterval,
			StateMaxAge:       cfg.Conversation.MaxAge,
			AuditRetention:    cfg.Conversation.AuditRetention,
		},
		Logger: logger,
	}
	if audit != nil {
		retention.Audit = audit
	}
	go func() {
		_ = retention.Run(ctx)
	}()

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store", cfg.Store.Backend),
			slog.Bool("execution", cfg.Execution.Enabled),
			slog.Bool("parser", cfg.AI.ParseEnabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func loadRegistry(cfg config.Config) (*schema.Registry, error) {
	if cfg.Schema.Path == "" {
		return schema.Default()
	}
	return schema.Load(cfg.Schema.Path)
}

// openObjectStore returns the dataset backend. The memory backend is seeded
// with the generated demo dataset so the server works without MinIO.
func openObjectStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if cfg.ObjectStore.Backend == config.ObjectStoreBackendS3 {
		return s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
	}

	store := storage.NewMemoryStore()
	files, err := dataset.Seed(ctx, store, cfg.ObjectStore.Dataset, int64(cfg.Dataset.Seed), dataset.Sizes{
		Customers: cfg.Dataset.Customers,
		Products:  cfg.Dataset.Products,
		Orders:    cfg.Dataset.Orders,
	})
	if err != nil {
		return nil, fmt.Errorf("seed in-memory dataset: %w", err)
	}
	logger.Info("seeded in-memory dataset", slog.String("dataset", cfg.ObjectStore.Dataset), slog.Int("files", len(files)))
	return store, nil
}
