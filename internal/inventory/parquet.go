package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"
)

// julianUnixEpoch is the Julian day number of 1970-01-01.
const julianUnixEpoch = 2440588

type timeUnit int

const (
	notTimestamp timeUnit = iota
	unitMillis
	unitMicros
	unitNanos
)

// ParquetReader reads an inventory Parquet file one row group at a time.
type ParquetReader struct {
	f         *os.File
	groups    []parquet.RowGroup
	group     int
	rows      parquet.Rows
	names     []string
	units     []timeUnit
	batchSize int
	buf       []parquet.Row
}

// OpenParquet opens an inventory Parquet file.
func OpenParquet(path string, batchSize int) (*ParquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat parquet: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	schema := pf.Schema()
	paths := schema.Columns()
	r := &ParquetReader{
		f:         f,
		groups:    pf.RowGroups(),
		names:     make([]string, len(paths)),
		units:     make([]timeUnit, len(paths)),
		batchSize: batchSize,
		buf:       make([]parquet.Row, min(batchSize, 1024)),
	}
	for i, p := range paths {
		r.names[i] = SnakeCase(p[len(p)-1])
		if leaf, ok := schema.Lookup(p...); ok {
			r.units[i] = unitOf(leaf.Node)
		}
	}
	return r, nil
}

func unitOf(node parquet.Node) timeUnit {
	lt := node.Type().LogicalType()
	if lt == nil || lt.Timestamp == nil {
		return notTimestamp
	}
	switch {
	case lt.Timestamp.Unit.Micros != nil:
		return unitMicros
	case lt.Timestamp.Unit.Nanos != nil:
		return unitNanos
	}
	return unitMillis
}

// Columns returns the snake-case column names of the file.
func (r *ParquetReader) Columns() []string {
	return append([]string(nil), r.names...)
}

// Next returns up to batchSize rows, or io.EOF when the file is exhausted.
func (r *ParquetReader) Next(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, r.batchSize)
	for len(out) < r.batchSize {
		if r.rows == nil {
			if r.group >= len(r.groups) {
				break
			}
			r.rows = r.groups[r.group].Rows()
			r.group++
		}

		buf := r.buf[:min(r.batchSize-len(out), len(r.buf))]
		for i := range buf {
			buf[i] = buf[i][:0]
		}
		n, err := r.rows.ReadRows(buf)
		for _, row := range buf[:n] {
			out = append(out, r.convert(row))
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if err != nil || n == 0 {
			r.rows.Close()
			r.rows = nil
		}
	}

	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

func (r *ParquetReader) convert(row parquet.Row) Row {
	out := make(Row, len(r.names))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(r.names) || v.IsNull() {
			continue
		}
		out[r.names[col]] = r.value(col, v)
	}
	return out
}

func (r *ParquetReader) value(col int, v parquet.Value) any {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		switch r.units[col] {
		case unitMillis:
			return time.UnixMilli(v.Int64()).UTC()
		case unitMicros:
			return time.UnixMicro(v.Int64()).UTC()
		case unitNanos:
			return time.Unix(0, v.Int64()).UTC()
		}
		return v.Int64()
	case parquet.Int96:
		return int96Time(v.Int96())
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return string(v.ByteArray())
	}
}

// int96Time decodes a legacy INT96 timestamp: nanoseconds within the day in
// the low 64 bits and the Julian day in the high 32 bits.
func int96Time(i deprecated.Int96) time.Time {
	nanos := int64(i[1])<<32 | int64(i[0])
	days := int64(i[2]) - julianUnixEpoch
	return time.Unix(days*86400, nanos).UTC()
}

// Close releases the file.
func (r *ParquetReader) Close() error {
	if r.rows != nil {
		r.rows.Close()
		r.rows = nil
	}
	return r.f.Close()
}
