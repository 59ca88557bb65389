package measure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/broadinstitute/cpg/internal/grammar"
	"github.com/broadinstitute/cpg/internal/inventory"
	"github.com/broadinstitute/cpg/internal/record"
)

type stubSource struct {
	batches [][]inventory.Row
	err     error
}

func (s *stubSource) Next(ctx context.Context) ([]inventory.Row, error) {
	if len(s.batches) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

type stubSink struct {
	rows      []record.Measured
	err       error
	committed bool
	aborted   bool
}

func (s *stubSink) Append(ctx context.Context, rows []record.Measured) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *stubSink) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func (s *stubSink) Abort(ctx context.Context) error {
	s.aborted = true
	return nil
}

func errorMentions(reason string) func(t *testing.T, got record.Measured) {
	return func(t *testing.T, got record.Measured) {
		t.Helper()
		if got.Errors == nil || !strings.Contains(*got.Errors, reason) {
			t.Errorf("Errors = %v, want mention of %q", got.Errors, reason)
		}
		if got.DatasetID != nil || got.RootDir != nil {
			t.Errorf("parsed fields set on rejected key: dataset %v root %v", got.DatasetID, got.RootDir)
		}
	}
}

func TestMeasureRow(t *testing.T) {
	m := New()

	tests := []struct {
		name      string
		row       inventory.Row
		wantError bool
		check     func(t *testing.T, got record.Measured)
	}{
		{
			name: "images key",
			row: inventory.Row{
				"bucket": "cellpainting-gallery",
				"key":    "cpg0016-jump/source_4/images/2021_01_01_Batch1/Plate1/A01-01/r01c01f01.tiff",
				"size":   int64(100),
			},
			check: func(t *testing.T, got record.Measured) {
				want := map[string]*string{
					"dataset_id": got.DatasetID, "source_id": got.SourceID, "root_dir": got.RootDir,
					"batch_id": got.BatchID, "plate_id": got.PlateID, "well_id": got.WellID, "site_id": got.SiteID,
				}
				values := map[string]string{
					"dataset_id": "cpg0016-jump", "source_id": "source_4", "root_dir": "images",
					"batch_id": "2021_01_01_Batch1", "plate_id": "Plate1", "well_id": "A01", "site_id": "01",
				}
				for k, v := range values {
					if want[k] == nil || *want[k] != v {
						t.Errorf("%s = %v, want %q", k, want[k], v)
					}
				}
			},
		},
		{
			name: "workspace analysis key",
			row:  inventory.Row{"key": "cpg0016-jump/source_4/workspace/analysis/Batch1/Plate1-A01-01/CellProfiler/Cells.csv"},
			check: func(t *testing.T, got record.Measured) {
				if got.RootDir == nil || *got.RootDir != "workspace" {
					t.Errorf("RootDir = %v, want workspace", got.RootDir)
				}
				if got.WorkspaceDir == nil || *got.WorkspaceDir != "analysis" {
					t.Errorf("WorkspaceDir = %v, want analysis", got.WorkspaceDir)
				}
				if got.LeafNode == nil || !strings.HasSuffix(*got.LeafNode, "Cells.csv") {
					t.Errorf("LeafNode = %v, want suffix Cells.csv", got.LeafNode)
				}
			},
		},
		{
			name:      "no structure",
			row:       inventory.Row{"key": "random-garbage-no-structure"},
			wantError: true,
			check: func(t *testing.T, got record.Measured) {
				for i, c := range record.Schema() {
					if c.Type == record.NullableString && c.Name != "errors" && got.Values()[i] != nil {
						t.Errorf("%s = %v, want unset", c.Name, got.Values()[i])
					}
				}
			},
		},
		{
			name: "directory marker",
			row:  inventory.Row{"key": "cpg0016-jump/source_4/images/B1/illum/P1/"},
			check: func(t *testing.T, got record.Measured) {
				if !got.IsDir {
					t.Error("IsDir = false, want true")
				}
				if got.LeafNode != nil || got.Filename != nil {
					t.Errorf("leaf fields set: %v %v", got.LeafNode, got.Filename)
				}
			},
		},
		{
			name:      "bad inventory column",
			row:       inventory.Row{"bucket": "b", "key": "d/s/images/B/P/A01-1/f.tiff", "size": "huge"},
			wantError: true,
			check: func(t *testing.T, got record.Measured) {
				if got.Bucket != "b" || got.Size != nil || got.DatasetID != nil {
					t.Errorf("unexpected columns: bucket=%q size=%v", got.Bucket, got.Size)
				}
			},
		},
		{
			name:      "missing key",
			row:       inventory.Row{"bucket": "b"},
			wantError: true,
		},
		{
			name:      "root only",
			row:       inventory.Row{"key": "/"},
			wantError: true,
			check:     errorMentions("empty path segment"),
		},
		{
			name:      "invalid utf-8",
			row:       inventory.Row{"key": "cpg0016/source_4/images/\xff\xfe.tiff"},
			wantError: true,
			check:     errorMentions("not valid UTF-8"),
		},
		{
			name:      "too long",
			row:       inventory.Row{"key": "cpg0016/source_4/images/" + strings.Repeat("a", 1024)},
			wantError: true,
			check:     errorMentions("exceeds 1024 bytes"),
		},
		{
			name:      "non-string key",
			row:       inventory.Row{"key": 42},
			wantError: true,
			check: func(t *testing.T, got record.Measured) {
				if got.Key != "42" {
					t.Errorf("Key = %q, want 42", got.Key)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.MeasureRow(tt.row)
			if got.IsParsingError != tt.wantError {
				t.Fatalf("IsParsingError = %v, want %v (errors: %v)", got.IsParsingError, tt.wantError, got.Errors)
			}
			if tt.wantError && (got.Errors == nil || *got.Errors == "") {
				t.Error("expected non-empty errors")
			}
			if !tt.wantError && got.Errors != nil {
				t.Errorf("Errors = %q, want nil", *got.Errors)
			}
			if k, ok := tt.row["key"].(string); ok && got.Key != k {
				t.Errorf("Key = %q, want %q", got.Key, k)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestMeasureBatch_OneBadKey(t *testing.T) {
	const n = 10000
	rows := make([]inventory.Row, n)
	for i := range rows {
		rows[i] = inventory.Row{
			"bucket": "cellpainting-gallery",
			"key":    fmt.Sprintf("cpg0016-jump/source_4/images/B1/P%d/A01-1/f%d.tiff", i%384, i),
		}
	}
	rows[4321]["key"] = "cpg0016-jump//broken"

	out := New().MeasureBatch(rows)
	if len(out) != n {
		t.Fatalf("len(MeasureBatch()) = %d, want %d", len(out), n)
	}
	var failed []int
	for i := range out {
		if out[i].Key != rows[i]["key"] {
			t.Fatalf("row %d key = %q, want %q", i, out[i].Key, rows[i]["key"])
		}
		if out[i].IsParsingError {
			failed = append(failed, i)
		}
	}
	if !reflect.DeepEqual(failed, []int{4321}) {
		t.Fatalf("failed rows = %v, want [4321]", failed)
	}
}

func TestMeasureBatch_Empty(t *testing.T) {
	if out := New().MeasureBatch(nil); len(out) != 0 {
		t.Fatalf("len(MeasureBatch(nil)) = %d, want 0", len(out))
	}
}

func TestMeasure(t *testing.T) {
	size := int64(10)
	src := &stubSource{batches: [][]inventory.Row{
		{{"key": "d/s/images/B/P/A01-1/a.tiff", "size": size}, {"key": "bad"}},
		{{"key": "d/s/workspace/backend/B/P/P.sqlite", "size": size}},
	}}
	dst := &stubSink{}

	stats, err := New().Measure(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	want := Stats{Rows: 3, ParsingErrors: 1, Bytes: 20, Batches: 2}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
	if len(dst.rows) != 3 || dst.rows[1].Key != "bad" {
		t.Errorf("sink rows = %d", len(dst.rows))
	}
}

func TestMeasure_Failures(t *testing.T) {
	readErr := errors.New("disk on fire")
	writeErr := errors.New("sink closed")

	tests := []struct {
		name string
		src  *stubSource
		dst  *stubSink
		want error
	}{
		{
			name: "reader error",
			src:  &stubSource{batches: [][]inventory.Row{{{"key": "a/b"}}}, err: readErr},
			dst:  &stubSink{},
			want: readErr,
		},
		{
			name: "sink error",
			src:  &stubSource{batches: [][]inventory.Row{{{"key": "a/b"}}}},
			dst:  &stubSink{err: writeErr},
			want: writeErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Measure(context.Background(), tt.src, tt.dst)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Measure() error = %v, want %v", err, tt.want)
			}
			if IsRowError(err) {
				t.Error("reader and sink errors must not be row errors")
			}
		})
	}
}

func TestMeasure_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Measure(ctx, &stubSource{batches: [][]inventory.Row{{{"key": "a/b"}}}}, &stubSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Measure() error = %v, want context.Canceled", err)
	}
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "part-00.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMeasureFile(t *testing.T) {
	path := writeCSV(t,
		`"cellpainting-gallery","cpg0016-jump/source_4/images/B1/P1/A01-1/a.tiff","5"`,
		`"cellpainting-gallery","garbage","1"`,
	)
	m := New(WithBatchSize(1), WithColumns([]string{"bucket", "key", "size"}))

	sink := &stubSink{}
	var gotPartition string
	stats, err := m.MeasureFile(context.Background(), path, func(ctx context.Context, partition string) (PartitionSink, error) {
		gotPartition = partition
		return sink, nil
	})
	if err != nil {
		t.Fatalf("MeasureFile() error = %v", err)
	}
	if gotPartition != "part-00" {
		t.Errorf("partition = %q, want part-00", gotPartition)
	}
	if !sink.committed || sink.aborted {
		t.Errorf("committed=%v aborted=%v, want committed only", sink.committed, sink.aborted)
	}
	if stats.Rows != 2 || stats.ParsingErrors != 1 || stats.Batches != 2 || stats.Bytes != 6 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestMeasureFile_AbortsOnSinkError(t *testing.T) {
	path := writeCSV(t, `"b","d/s/images/B/P/A01-1/a.tiff","5"`)
	sink := &stubSink{err: errors.New("full")}

	_, err := New().MeasureFile(context.Background(), path, func(ctx context.Context, partition string) (PartitionSink, error) {
		return sink, nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if sink.committed || !sink.aborted {
		t.Errorf("committed=%v aborted=%v, want aborted only", sink.committed, sink.aborted)
	}
}

func TestIsRowError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "grammar", err: fmt.Errorf("wrap: %w", &grammar.GrammarError{Kind: grammar.UnexpectedToken}), want: true},
		{name: "field", err: errors.Join(&record.FieldError{Field: "size", Err: record.ErrOutOfRange}), want: true},
		{name: "io", err: io.ErrUnexpectedEOF, want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRowError(tt.err); got != tt.want {
				t.Errorf("IsRowError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPartitionName(t *testing.T) {
	tests := map[string]string{
		"/data/inv/abc.parquet": "abc",
		"x/part-1.csv.gz":       "part-1",
		"x/part-2.CSV":          "part-2",
		"x/no-extension":        "no-extension",
	}
	for in, want := range tests {
		if got := PartitionName(in); got != want {
			t.Errorf("PartitionName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSchemaStable(t *testing.T) {
	m := New()
	ok := m.MeasureRow(inventory.Row{"key": "d/s/images/B/P/A01-1/a.tiff"})
	bad := m.MeasureRow(inventory.Row{"key": "bad"})
	if len(ok.Values()) != len(bad.Values()) || len(ok.Values()) != len(record.Schema()) {
		t.Fatal("error and success rows must share the schema")
	}
}
