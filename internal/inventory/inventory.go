// Package inventory reads S3 inventory partitions (Parquet or CSV) into
// batches of raw rows.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBatchSize is the number of rows returned by one Next call when no
// batch size is configured.
const DefaultBatchSize = 10000

var ErrUnsupportedFormat = errors.New("inventory: unsupported file format")

// Row is one raw inventory row keyed by snake-case column name. Absent or
// null cells are missing from the map.
type Row map[string]any

// Reader yields inventory rows in file order. Next returns io.EOF once the
// partition is exhausted.
type Reader interface {
	Next(ctx context.Context) ([]Row, error)
	Close() error
}

// Format identifies a partition file format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatCSVGzip Format = "csv.gz"
)

// FormatOf returns the format of path from its extension.
func FormatOf(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".parquet"):
		return FormatParquet, nil
	case strings.HasSuffix(name, ".csv.gz"):
		return FormatCSVGzip, nil
	case strings.HasSuffix(name, ".csv"):
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Open opens a partition file. columns names the CSV columns in file order
// and defaults to the standard inventory columns; Parquet files carry their
// own schema.
func Open(path string, columns []string, batchSize int) (Reader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	switch format {
	case FormatParquet:
		return OpenParquet(path, batchSize)
	default:
		return OpenCSV(path, columns, batchSize)
	}
}

// Discover returns the partition files below dir in lexical order.
func Discover(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, err := FormatOf(path); err == nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover partitions in %s: %w", dir, err)
	}
	return paths, nil
}

// Size returns the size of a partition file in bytes, or 0 when unknown.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
