// Package sink writes measured records to Parquet files, ClickHouse and
// SQL databases.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/broadinstitute/cpg/internal/record"
)

// Parquet writes one partition to a Parquet file. Rows go to a temporary
// file that replaces path on Commit.
type Parquet struct {
	path string
	tmp  string
	f    *os.File
	w    *parquet.GenericWriter[record.Measured]
	rows int64
}

// NewParquet creates the temporary output file for path.
func NewParquet(path string) (*Parquet, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	return &Parquet{
		path: path,
		tmp:  tmp,
		f:    f,
		w:    parquet.NewGenericWriter[record.Measured](f, parquet.Compression(&parquet.Snappy)),
	}, nil
}

// Path is the final output path.
func (p *Parquet) Path() string {
	return p.path
}

// Rows is the number of rows appended so far.
func (p *Parquet) Rows() int64 {
	return p.rows
}

// Append writes rows as one row group.
func (p *Parquet) Append(ctx context.Context, rows []record.Measured) error {
	if p.w == nil {
		return errors.New("parquet sink is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := p.w.Write(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("flush row group: %w", err)
	}
	p.rows += int64(len(rows))
	return nil
}

// Commit finishes the file and moves it into place.
func (p *Parquet) Commit(ctx context.Context) error {
	if p.w == nil {
		return errors.New("parquet sink is closed")
	}
	err := p.w.Close()
	p.w = nil
	if err == nil {
		err = p.f.Sync()
	}
	if cerr := p.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p.tmp)
		return fmt.Errorf("close %s: %w", p.tmp, err)
	}
	if err := os.Rename(p.tmp, p.path); err != nil {
		return fmt.Errorf("rename %s: %w", p.tmp, err)
	}
	return nil
}

// Abort discards everything written.
func (p *Parquet) Abort(ctx context.Context) error {
	if p.w != nil {
		p.w.Close()
		p.w = nil
		p.f.Close()
	}
	if err := os.Remove(p.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p.tmp, err)
	}
	return nil
}
