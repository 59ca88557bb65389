package inventory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/broadinstitute/cpg/internal/record"
)

// CSVReader reads a headerless inventory CSV file, gzipped or plain.
type CSVReader struct {
	closers   []io.Closer
	r         *csv.Reader
	columns   []string
	batchSize int
	line      int
}

// OpenCSV opens an inventory CSV file. A ".gz" suffix selects gzip
// decompression.
func OpenCSV(path string, columns []string, batchSize int) (*CSVReader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	closers := []io.Closer{f}
	var src io.Reader = f
	if format == FormatCSVGzip {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		closers = append([]io.Closer{zr}, closers...)
		src = zr
	}
	r := NewCSVReader(src, columns, batchSize)
	r.closers = closers
	return r, nil
}

// NewCSVReader reads CSV rows from src. columns defaults to the standard
// inventory columns.
func NewCSVReader(src io.Reader, columns []string, batchSize int) *CSVReader {
	if len(columns) == 0 {
		columns = record.InventoryColumns()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &CSVReader{r: cr, columns: columns, batchSize: batchSize}
}

// Next returns up to batchSize rows, or io.EOF when the file is exhausted.
// Empty cells are treated as null and keys are URL-decoded.
func (r *CSVReader) Next(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, r.batchSize)
	for len(out) < r.batchSize {
		fields, err := r.r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", r.line+1, err)
		}
		r.line++

		row := make(Row, len(r.columns))
		for i, v := range fields {
			if i >= len(r.columns) || v == "" {
				continue
			}
			if r.columns[i] == "key" {
				if decoded, err := url.QueryUnescape(v); err == nil {
					v = decoded
				}
			}
			row[r.columns[i]] = v
		}
		out = append(out, row)
	}

	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// Close releases the underlying file.
func (r *CSVReader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
