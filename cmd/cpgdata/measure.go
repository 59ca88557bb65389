package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/broadinstitute/cpg/internal/config"
	"github.com/broadinstitute/cpg/internal/exitcode"
	"github.com/broadinstitute/cpg/internal/inventory"
	"github.com/broadinstitute/cpg/internal/measure"
	"github.com/broadinstitute/cpg/internal/model"
	"github.com/broadinstitute/cpg/internal/runner"
	"github.com/broadinstitute/cpg/internal/sink"
	"github.com/broadinstitute/cpg/internal/storage"
)

type measureOptions struct {
	input         string
	output        string
	jobs          int
	batchSize     int
	timeout       time.Duration
	failFast      bool
	sink          string
	runID         string
	publishBucket string
	publishPrefix string
}

func newMeasureCmd(a *app) *cobra.Command {
	var opts measureOptions
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Parse every inventory key and write measured records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.measure(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Directory holding the synced inventory")
	f.StringVarP(&opts.output, "output", "o", "", "Directory for measured parquet partitions")
	f.IntVarP(&opts.jobs, "jobs", "j", a.cfg.MeasureJobs, "Partitions measured in parallel")
	f.IntVar(&opts.batchSize, "batch-size", a.cfg.MeasureBatchSize, "Rows per batch")
	f.DurationVar(&opts.timeout, "timeout", a.cfg.MeasurePartitionTimeout, "Per-partition timeout, 0 for none")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Stop remaining partitions after the first failure")
	f.StringVar(&opts.sink, "sink", a.cfg.MeasureSink, "Output sink: parquet, clickhouse, postgres or sqlite")
	f.StringVar(&opts.runID, "run-id", "", "Run identifier (UUIDv7), generated when empty")
	f.StringVar(&opts.publishBucket, "publish-bucket", a.cfg.InventoryBucket, "Bucket receiving published partitions")
	f.StringVar(&opts.publishPrefix, "publish-prefix", "", "Upload committed parquet partitions under this prefix")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) measure(ctx context.Context, opts measureOptions) error {
	cfg := *a.cfg
	cfg.MeasureSink = strings.ToLower(opts.sink)
	if err := cfg.ValidateSink(); err != nil {
		return withCode(exitcode.ConfigError, err)
	}
	if cfg.MeasureSink == config.SinkParquet && opts.output == "" {
		return withCode(exitcode.ConfigError, errors.New("--output is required for the parquet sink"))
	}
	if opts.batchSize <= 0 {
		return withCode(exitcode.ConfigError, fmt.Errorf("--batch-size must be positive, got %d", opts.batchSize))
	}

	runID := model.RunID(opts.runID)
	if runID == "" {
		var err error
		if runID, err = model.NewRunID(); err != nil {
			return err
		}
	} else if err := runID.Validate(); err != nil {
		return withCode(exitcode.ConfigError, err)
	}
	logger := a.logger.With("run_id", runID.String())

	partitions, columns, err := a.partitions(opts.input)
	if err != nil {
		return withCode(exitcode.StorageError, err)
	}
	if len(partitions) == 0 {
		return withCode(exitcode.StorageError, fmt.Errorf("no inventory partitions in %s", opts.input))
	}

	m := measure.New(
		measure.WithBatchSize(opts.batchSize),
		measure.WithColumns(columns),
		measure.WithLogger(logger),
	)

	var (
		open measure.SinkFactory
		pub  objectStore
	)
	if cfg.MeasureSink == config.SinkParquet {
		if opts.publishPrefix != "" {
			if pub, err = a.openStore(ctx, opts.publishBucket); err != nil {
				return withCode(exitcode.NetworkError, err)
			}
		}
		open = parquetSinks(opts.output, pub, opts.publishPrefix, runID)
	} else {
		db, err := a.openDatabase(ctx, &cfg)
		if err != nil {
			return withCode(exitcode.NetworkError, fmt.Errorf("open %s sink: %w", cfg.MeasureSink, err))
		}
		defer db.Close()
		if err := db.EnsureTable(ctx); err != nil {
			return withCode(exitcode.NetworkError, err)
		}
		open = func(context.Context, string) (measure.PartitionSink, error) { return db, nil }
	}

	logger.InfoContext(ctx, "measuring inventory",
		"partitions", len(partitions),
		"jobs", opts.jobs,
		"sink", cfg.MeasureSink,
	)
	start := time.Now()
	results, runErr := runner.Run(ctx, partitions, func(ctx context.Context, path string) (measure.Stats, error) {
		return m.MeasureFile(ctx, path, open)
	}, runner.Options{
		Jobs:     opts.jobs,
		Timeout:  opts.timeout,
		FailFast: opts.failFast,
		Logger:   logger,
	})

	var total measure.Stats
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		total.Add(r.Value)
	}
	logger.InfoContext(ctx, "measurement complete",
		"partitions", len(partitions),
		"failed", failed,
		"rows", humanize.Comma(total.Rows),
		"errors", humanize.Comma(total.ParsingErrors),
		"objects_size", humanize.Bytes(uint64(max(total.Bytes, 0))),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)

	if pub != nil {
		summary := newRunSummary(runID, opts.publishPrefix, results)
		if err := publishSummary(ctx, pub, opts.publishPrefix, summary); err != nil {
			if runErr != nil {
				logger.ErrorContext(ctx, "publish summary", "error", err)
				return runErr
			}
			return withCode(exitcode.StorageError, err)
		}
	}
	return runErr
}

type partitionSummary struct {
	Partition     string `json:"partition"`
	Key           string `json:"key,omitempty"`
	Rows          int64  `json:"rows"`
	ParsingErrors int64  `json:"parsing_errors"`
	Error         string `json:"error,omitempty"`
}

// runSummary lists every partition of a published run, failed ones included.
type runSummary struct {
	RunID         string             `json:"run_id"`
	Rows          int64              `json:"rows"`
	ParsingErrors int64              `json:"parsing_errors"`
	Failed        int                `json:"failed"`
	Partitions    []partitionSummary `json:"partitions"`
}

func newRunSummary(runID model.RunID, prefix string, results []runner.Result[measure.Stats]) runSummary {
	s := runSummary{RunID: runID.String(), Partitions: make([]partitionSummary, len(results))}
	for i, r := range results {
		name := measure.PartitionName(r.Partition)
		ps := partitionSummary{Partition: name}
		if r.Err != nil {
			ps.Error = r.Err.Error()
			s.Failed++
		} else {
			ps.Key = storage.OutputKey{Prefix: prefix, RunID: runID.String(), Partition: name}.Key()
			ps.Rows, ps.ParsingErrors = r.Value.Rows, r.Value.ParsingErrors
			s.Rows += ps.Rows
			s.ParsingErrors += ps.ParsingErrors
		}
		s.Partitions[i] = ps
	}
	return s
}

func publishSummary(ctx context.Context, pub objectStore, prefix string, s runSummary) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	key := storage.SummaryKey(prefix, s.RunID)
	if err := pub.Put(ctx, key, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("publish summary %s: %w", key, err)
	}
	return nil
}

// partitions lists the inventory data files under dir. When a manifest is
// present its files and column order are used.
func (a *app) partitions(dir string) ([]string, []string, error) {
	manifest, manifestPath, err := inventory.LatestManifest(dir)
	if errors.Is(err, fs.ErrNotExist) {
		paths, err := inventory.Discover(dir)
		return paths, nil, err
	}
	if err != nil {
		return nil, nil, err
	}

	a.logger.Info("using inventory manifest",
		"path", manifestPath,
		"created", manifest.Created().Format(time.RFC3339),
		"files", len(manifest.Files),
	)
	var paths []string
	for _, f := range manifest.Files {
		path, err := storage.LocalPath(dir, a.cfg.InventoryPrefix, f.Key)
		if err != nil {
			return nil, nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("manifest file %s: %w", f.Key, err)
		}
		paths = append(paths, path)
	}
	return paths, manifest.Columns(), nil
}

// publishingSink uploads the committed file. A file whose upload failed is
// removed on Abort.
type publishingSink struct {
	*sink.Parquet
	store     objectStore
	key       string
	committed bool
}

func (p *publishingSink) Commit(ctx context.Context) error {
	if err := p.Parquet.Commit(ctx); err != nil {
		return err
	}
	p.committed = true
	if err := p.store.PutFile(ctx, p.key, p.Path()); err != nil {
		return fmt.Errorf("publish %s: %w", p.key, err)
	}
	return nil
}

func (p *publishingSink) Abort(ctx context.Context) error {
	if err := p.Parquet.Abort(ctx); err != nil {
		return err
	}
	if !p.committed {
		return nil
	}
	if err := os.Remove(p.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove unpublished %s: %w", p.Path(), err)
	}
	return nil
}

func parquetSinks(dir string, pub objectStore, prefix string, runID model.RunID) measure.SinkFactory {
	return func(ctx context.Context, partition string) (measure.PartitionSink, error) {
		s, err := sink.NewParquet(filepath.Join(dir, partition+".parquet"))
		if err != nil {
			return nil, err
		}
		if pub == nil {
			return s, nil
		}
		key := storage.OutputKey{Prefix: prefix, RunID: runID.String(), Partition: partition}.Key()
		return &publishingSink{Parquet: s, store: pub, key: key}, nil
	}
}
