package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/broadinstitute/cpg/internal/config"
	"github.com/broadinstitute/cpg/internal/measure"
	"github.com/broadinstitute/cpg/internal/sink"
	"github.com/broadinstitute/cpg/internal/storage"
)

// objectStore is the slice of storage.MinIOClient the commands use.
type objectStore interface {
	Sync(ctx context.Context, prefix, dir string, force bool) (storage.SyncResult, error)
	Put(ctx context.Context, key string, reader io.Reader) error
	PutFile(ctx context.Context, key, path string) error
}

// databaseSink is a shared sink that every partition appends to.
type databaseSink interface {
	measure.PartitionSink
	EnsureTable(ctx context.Context) error
	Close() error
}

type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	openStore    func(ctx context.Context, bucket string) (objectStore, error)
	openDatabase func(ctx context.Context, cfg *config.Config) (databaseSink, error)
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}
	a.openStore = a.minioStore
	a.openDatabase = a.database
	return a
}

func (a *app) minioStore(ctx context.Context, bucket string) (objectStore, error) {
	client, err := storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:  a.cfg.S3Endpoint,
		AccessKey: a.cfg.S3AccessKey,
		SecretKey: a.cfg.S3SecretKey,
		Region:    a.cfg.S3Region,
		Bucket:    bucket,
		UseSSL:    a.cfg.S3UseSSL,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) database(ctx context.Context, cfg *config.Config) (databaseSink, error) {
	switch cfg.MeasureSink {
	case config.SinkClickHouse:
		ch, err := sink.NewClickHouse(ctx, sink.ClickHouseConfig{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			User:     cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
			Database: cfg.ClickHouseDatabase,
			Table:    cfg.ClickHouseTable,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case config.SinkPostgres:
		return openSQL(sink.Postgres, cfg.PostgresDSN, cfg.SQLTable)
	default:
		return openSQL(sink.SQLite, cfg.SQLitePath, cfg.SQLTable)
	}
}

func openSQL(dialect sink.Dialect, dsn, table string) (databaseSink, error) {
	s, err := sink.OpenSQL(dialect, dsn, table)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cpgdata",
		Short:         "Measure the Cell Painting Gallery S3 inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	inventoryCmd := &cobra.Command{
		Use:   "inventory",
		Short: "Sync and measure the bucket inventory",
	}
	inventoryCmd.AddCommand(
		newSyncCmd(a, "Download the S3 inventory files", a.cfg.InventoryPrefix),
		newMeasureCmd(a),
	)

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Sync the gallery index files",
	}
	indexCmd.AddCommand(newSyncCmd(a, "Download the gallery index files", a.cfg.IndexPrefix))

	root.AddCommand(inventoryCmd, indexCmd, newParseCmd(), newSchemaCmd(a))
	return root
}
