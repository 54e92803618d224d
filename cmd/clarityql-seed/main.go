// Command clarityql-seed generates the demo sales dataset and uploads it as
// parquet to the configured S3 bucket, where the API reads it when
// CLARITYQL_OBJECTSTORE_BACKEND=s3.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/config"
	"github.com/abhiyan52/ClarityQL/internal/dataset"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	s3store "github.com/abhiyan52/ClarityQL/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("clarityql-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	name := flag.String("dataset", cfg.ObjectStore.Dataset, "dataset name under datasets/")
	seed := flag.Int64("seed", int64(cfg.Dataset.Seed), "generator seed")
	orders := flag.Int("orders", cfg.Dataset.Orders, "number of orders")
	timeout := flag.Duration("timeout", 5*time.Minute, "upload timeout")
	flag.Parse()

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	start := time.Now()
	files, err := dataset.Seed(ctx, store, *name, *seed, dataset.Sizes{
		Customers: cfg.Dataset.Customers,
		Products:  cfg.Dataset.Products,
		Orders:    *orders,
	})
	if err != nil {
		logger.Error("failed to seed dataset", slog.Any("error", err))
		os.Exit(1)
	}
	for _, file := range files {
		logger.Info("dataset table ready",
			slog.String("table", file.TableName),
			slog.String("object", file.ObjectPath),
			slog.Int64("bytes", file.FileSizeBytes),
		)
	}
	logger.Info("dataset seeded", slog.String("dataset", *name), slog.Duration("elapsed", time.Since(start)))
}
