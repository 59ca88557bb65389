// Package measure turns inventory rows into measured records, one output
// row per input row.
package measure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/broadinstitute/cpg/internal/grammar"
	"github.com/broadinstitute/cpg/internal/inventory"
	"github.com/broadinstitute/cpg/internal/prefix"
	"github.com/broadinstitute/cpg/internal/record"
)

// Source yields batches of inventory rows and io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) ([]inventory.Row, error)
}

// Sink receives measured batches.
type Sink interface {
	Append(ctx context.Context, rows []record.Measured) error
}

// PartitionSink is a Sink whose output becomes visible on Commit and is
// discarded on Abort.
type PartitionSink interface {
	Sink
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// SinkFactory opens the sink for one partition.
type SinkFactory func(ctx context.Context, partition string) (PartitionSink, error)

// Stats summarizes a measurement run.
type Stats struct {
	Rows          int64
	ParsingErrors int64
	Bytes         int64
	Batches       int64
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Rows += o.Rows
	s.ParsingErrors += o.ParsingErrors
	s.Bytes += o.Bytes
	s.Batches += o.Batches
}

func (s *Stats) addBatch(rows []record.Measured) {
	s.Batches++
	s.Rows += int64(len(rows))
	for i := range rows {
		if rows[i].IsParsingError {
			s.ParsingErrors++
		}
		if rows[i].Size != nil {
			s.Bytes += *rows[i].Size
		}
	}
}

// Measurer measures inventory rows. It holds no per-run state and is safe
// for concurrent use.
type Measurer struct {
	parser    *prefix.Parser
	batchSize int
	columns   []string
	logger    *slog.Logger
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithBatchSize sets the number of rows read per batch by MeasureFile.
func WithBatchSize(n int) Option {
	return func(m *Measurer) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithColumns sets the CSV column order used by MeasureFile.
func WithColumns(columns []string) Option {
	return func(m *Measurer) { m.columns = columns }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Measurer) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns a Measurer backed by the key grammar.
func New(opts ...Option) *Measurer {
	m := &Measurer{
		parser:    prefix.NewParser(),
		batchSize: inventory.DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MeasureRow measures one row. It never fails: a row whose columns cannot be
// typed or whose key is rejected by the grammar yields an error record.
func (m *Measurer) MeasureRow(row inventory.Row) record.Measured {
	inv, err := record.ValidateInventory(row)
	if err != nil {
		key := inv.Key
		if key == "" {
			if v, ok := row["key"]; ok && v != nil {
				key = fmt.Sprint(v)
			}
		}
		return record.FromFailure(inv.Bucket, key, nil, err)
	}

	parsed, err := m.parser.Parse(inv.Key)
	if err != nil {
		return record.FromFailure(inv.Bucket, inv.Key, &inv, err)
	}
	return record.FromParsed(inv, parsed)
}

// MeasureBatch measures rows in order, one output per input.
func (m *Measurer) MeasureBatch(rows []inventory.Row) []record.Measured {
	out := make([]record.Measured, len(rows))
	for i, row := range rows {
		out[i] = m.MeasureRow(row)
	}
	return out
}

// Measure drains src into dst. Row-level failures become error records;
// reader and sink failures abort the run.
func (m *Measurer) Measure(ctx context.Context, src Source, dst Sink) (Stats, error) {
	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rows, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read batch %d: %w", stats.Batches+1, err)
		}

		measured := m.MeasureBatch(rows)
		if err := dst.Append(ctx, measured); err != nil {
			return stats, fmt.Errorf("write batch %d: %w", stats.Batches+1, err)
		}
		stats.addBatch(measured)
		m.logger.DebugContext(ctx, "batch measured",
			"batch", stats.Batches,
			"rows", len(measured),
		)
	}
}

// MeasureFile measures one partition file into the sink opened by open.
// The sink is committed on success and aborted otherwise.
func (m *Measurer) MeasureFile(ctx context.Context, path string, open SinkFactory) (stats Stats, err error) {
	partition := PartitionName(path)
	logger := m.logger.With("partition", partition)

	src, err := inventory.Open(path, m.columns, m.batchSize)
	if err != nil {
		return stats, fmt.Errorf("open partition %s: %w", partition, err)
	}
	defer src.Close()

	dst, err := open(ctx, partition)
	if err != nil {
		return stats, fmt.Errorf("open sink for %s: %w", partition, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if abortErr := dst.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			logger.WarnContext(ctx, "abort sink", "error", abortErr)
		}
	}()

	logger.InfoContext(ctx, "measuring partition", "path", path, "bytes", humanize.Bytes(uint64(inventory.Size(path))))
	stats, err = m.Measure(ctx, src, dst)
	if err != nil {
		return stats, err
	}
	if err = dst.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit %s: %w", partition, err)
	}

	logger.InfoContext(ctx, "partition measured",
		"rows", humanize.Comma(stats.Rows),
		"errors", humanize.Comma(stats.ParsingErrors),
		"objects_size", humanize.Bytes(uint64(max(stats.Bytes, 0))),
	)
	return stats, nil
}

// IsRowError reports whether err describes a single bad row rather than a
// failure of the run.
func IsRowError(err error) bool {
	var gerr *grammar.GrammarError
	var ferr *record.FieldError
	return errors.As(err, &gerr) || errors.As(err, &ferr)
}

// PartitionName is the partition file name without directory and format
// extension.
func PartitionName(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".csv.gz", ".parquet", ".csv"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
