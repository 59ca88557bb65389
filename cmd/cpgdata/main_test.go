package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/broadinstitute/cpg/internal/config"
	"github.com/broadinstitute/cpg/internal/exitcode"
	"github.com/broadinstitute/cpg/internal/runner"
	"github.com/broadinstitute/cpg/internal/storage"
)

const testRunID = "01890c24-905b-7122-b170-b60814e6ee06"

type stubStore struct {
	mu        sync.Mutex
	synced    []string
	published map[string]string
	syncErr   error
	putErr    error
	objects   map[string][]byte
}

func (s *stubStore) Put(ctx context.Context, key string, reader io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = b
	return nil
}

func (s *stubStore) Sync(ctx context.Context, prefix, dir string, force bool) (storage.SyncResult, error) {
	s.synced = append(s.synced, fmt.Sprintf("%s -> %s force=%t", prefix, dir, force))
	return storage.SyncResult{Downloaded: 3, Skipped: 1}, s.syncErr
}

func (s *stubStore) PutFile(ctx context.Context, key, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if s.published == nil {
		s.published = map[string]string{}
	}
	s.published[key] = path
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		InventoryBucket:  "cellpainting-gallery-inventory",
		InventoryPrefix:  "cellpainting-gallery/whole_bucket/",
		IndexPrefix:      "cellpainting-gallery/index",
		MeasureJobs:      2,
		MeasureBatchSize: 2,
		MeasureSink:      config.SinkParquet,
		ClickHouseTable:  "measurements",
		SQLTable:         "measurements",
	}
}

func testApp(cfg *config.Config, store *stubStore) *app {
	a := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.openStore = func(ctx context.Context, bucket string) (objectStore, error) {
		return store, nil
	}
	return a
}

func execute(t *testing.T, a *app, stdin string, args ...string) (string, int) {
	t.Helper()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	ctx := context.Background()
	err := root.ExecuteContext(ctx)
	return out.String(), exitCode(ctx, err)
}

func writeInventory(t *testing.T, dir, name string, keys ...string) {
	t.Helper()
	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "\"cellpainting-gallery\",\"%s\",\"12\",\"2024-03-01T11:30:00.500Z\"\n", key)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExitCode(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want int
	}{
		{name: "success", ctx: context.Background(), err: nil, want: exitcode.Success},
		{name: "flag error", ctx: context.Background(), err: errors.New("unknown flag: --nope"), want: exitcode.ConfigError},
		{name: "coded", ctx: context.Background(), err: withCode(exitcode.StorageError, errors.New("disk")), want: exitcode.StorageError},
		{name: "partition", ctx: context.Background(), err: errors.Join(&runner.PartitionError{Partition: "p", Err: errors.New("x")}), want: exitcode.PartitionError},
		{name: "interrupted", ctx: canceled, err: context.Canceled, want: exitcode.Interrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.ctx, tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseCmd(t *testing.T) {
	a := testApp(testConfig(), &stubStore{})
	out, code := execute(t, a, "",
		"parse",
		"cpg0001/source_1/images/B1/images/P1__2020/r01c01f01p01-ch1sk1fk1fl1.tiff",
		"nonsense",
	)
	if code != exitcode.DataError {
		t.Fatalf("exit code = %d, want %d", code, exitcode.DataError)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	var first, second parseResult
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first.Parsed == nil || first.Parsed.PlateID == nil || *first.Parsed.PlateID != "P1__2020" {
		t.Errorf("first result = %+v", first)
	}
	if second.Parsed != nil || second.Error == "" {
		t.Errorf("second result = %+v", second)
	}
}

func TestParseCmd_Stdin(t *testing.T) {
	a := testApp(testConfig(), &stubStore{})
	out, code := execute(t, a, "d/s/images/B/P/A01-1/a.tiff\n\nd/s/workspace/backend/B/P/P.sqlite\n", "parse")
	if code != exitcode.Success {
		t.Fatalf("exit code = %d, want success", code)
	}
	if n := strings.Count(out, "\n"); n != 2 {
		t.Errorf("got %d lines, want 2:\n%s", n, out)
	}
}

func TestSchemaCmd(t *testing.T) {
	a := testApp(testConfig(), &stubStore{})

	out, code := execute(t, a, "", "schema")
	if code != exitcode.Success {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"bucket", "key_parts", "plate_well_site_id", "is_parsing_error"} {
		if !strings.Contains(out, want) {
			t.Errorf("schema output missing %s", want)
		}
	}

	out, code = execute(t, a, "", "schema", "--ddl", "postgres")
	if code != exitcode.Success || !strings.Contains(out, `CREATE TABLE IF NOT EXISTS "measurements"`) {
		t.Errorf("postgres ddl = %q (code %d)", out, code)
	}

	if _, code := execute(t, a, "", "schema", "--ddl", "oracle"); code != exitcode.ConfigError {
		t.Errorf("unknown dialect exit code = %d", code)
	}
}

func TestSyncCmd(t *testing.T) {
	store := &stubStore{}
	a := testApp(testConfig(), store)

	out, code := execute(t, a, "", "inventory", "sync", "-o", "/tmp/inv", "-f")
	if code != exitcode.Success {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "downloaded 3, skipped 1") {
		t.Errorf("output = %q", out)
	}

	_, code = execute(t, a, "", "index", "sync", "-o", "/tmp/idx", "-p", "other/")
	if code != exitcode.Success {
		t.Fatalf("exit code = %d", code)
	}

	want := []string{
		"cellpainting-gallery/whole_bucket/ -> /tmp/inv force=true",
		"other/ -> /tmp/idx force=false",
	}
	if fmt.Sprint(store.synced) != fmt.Sprint(want) {
		t.Errorf("synced = %v, want %v", store.synced, want)
	}

	if _, code := execute(t, a, "", "inventory", "sync"); code != exitcode.ConfigError {
		t.Errorf("missing --output exit code = %d", code)
	}

	store.syncErr = errors.New("access denied")
	if _, code := execute(t, a, "", "inventory", "sync", "-o", "/tmp/inv"); code != exitcode.StorageError {
		t.Errorf("failed sync exit code = %d", code)
	}
}

func TestMeasureCmd_Parquet(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeInventory(t, in, "part-a.csv",
		"cpg0016-jump/source_4/images/2021_01_01_Batch1/Plate1/A01-01/r01c01f01.tiff",
		"cpg0016-jump/source_4/workspace/backend/B1/P1/P1.sqlite",
		"nonsense",
	)
	writeInventory(t, in, "part-b.csv", "cpg0000/source_1/workspace/analysis/B1/P1/analysis/P1-A02-3/Nuclei.csv")

	store := &stubStore{}
	a := testApp(testConfig(), store)
	_, code := execute(t, a, "",
		"inventory", "measure", "-i", in, "-o", out,
		"--run-id", testRunID, "--publish-prefix", "measurements",
	)
	if code != exitcode.Success {
		t.Fatalf("exit code = %d, want success", code)
	}

	for _, name := range []string{"part-a.parquet", "part-b.parquet"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
		key := "measurements/" + testRunID + "/" + name
		if store.published[key] != filepath.Join(out, name) {
			t.Errorf("published[%s] = %q", key, store.published[key])
		}
	}

	raw, ok := store.objects["measurements/"+testRunID+"/_summary.json"]
	if !ok {
		t.Fatalf("run summary not published, objects: %v", store.objects)
	}
	var summary runSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RunID != testRunID || summary.Rows != 4 || summary.ParsingErrors != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Partitions) != 2 || summary.Partitions[0].Partition != "part-a" || summary.Partitions[1].Rows != 1 {
		t.Errorf("summary partitions = %+v", summary.Partitions)
	}
}

func TestMeasureCmd_PartitionFailure(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeInventory(t, in, "good.csv", "d/s/images/B/P/A01-1/a.tiff")
	if err := os.WriteFile(filepath.Join(in, "broken.csv"), []byte("\"unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := testApp(testConfig(), &stubStore{})
	_, code := execute(t, a, "", "inventory", "measure", "-i", in, "-o", out, "-j", "1")
	if code != exitcode.PartitionError {
		t.Fatalf("exit code = %d, want %d", code, exitcode.PartitionError)
	}
	if _, err := os.Stat(filepath.Join(out, "good.parquet")); err != nil {
		t.Errorf("healthy partition not committed: %v", err)
	}
	for _, name := range []string{"broken.parquet", "broken.parquet.tmp"} {
		if _, err := os.Stat(filepath.Join(out, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s left behind: %v", name, err)
		}
	}
}

func TestMeasureCmd_PublishFailure(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeInventory(t, in, "part-a.csv", "cpg0016-jump/source_4/workspace/backend/B1/P1/P1.sqlite")

	store := &stubStore{putErr: errors.New("access denied")}
	a := testApp(testConfig(), store)
	_, code := execute(t, a, "",
		"inventory", "measure", "-i", in, "-o", out,
		"--run-id", testRunID, "--publish-prefix", "m",
	)
	if code != exitcode.PartitionError {
		t.Fatalf("exit code = %d, want %d", code, exitcode.PartitionError)
	}
	for _, name := range []string{"part-a.parquet", "part-a.parquet.tmp"} {
		if _, err := os.Stat(filepath.Join(out, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s left behind after failed publish: %v", name, err)
		}
	}
}

func TestMeasureCmd_SQLite_ParallelPartitions(t *testing.T) {
	in := t.TempDir()
	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("cpg0016-jump/source_4/images/B1/P1/A01-%d/a.tiff", i)
	}
	const partitions = 8
	for i := range partitions {
		writeInventory(t, in, fmt.Sprintf("part-%d.csv", i), keys...)
	}

	cfg := testConfig()
	cfg.MeasureBatchSize = 10
	cfg.SQLitePath = filepath.Join(t.TempDir(), "m.db")
	a := testApp(cfg, &stubStore{})
	_, code := execute(t, a, "", "inventory", "measure", "-i", in, "--sink", "sqlite", "-j", "4")
	if code != exitcode.Success {
		t.Fatalf("exit code = %d, want success", code)
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var total int
	if err := db.QueryRow(`SELECT count(*) FROM measurements`).Scan(&total); err != nil {
		t.Fatalf("query: %v", err)
	}
	if want := partitions * len(keys); total != want {
		t.Errorf("rows = %d, want %d", total, want)
	}
}

func TestMeasureCmd_SQLite(t *testing.T) {
	in := t.TempDir()
	writeInventory(t, in, "part-a.csv",
		"cpg0016-jump/source_4/images/2021_01_01_Batch1/Plate1/A01-01/r01c01f01.tiff",
		"nonsense",
		"cpg0016-jump/source_4/workspace/backend/B1/P1/P1.sqlite",
	)

	cfg := testConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "m.db")
	a := testApp(cfg, &stubStore{})
	_, code := execute(t, a, "", "inventory", "measure", "-i", in, "--sink", "sqlite")
	if code != exitcode.Success {
		t.Fatalf("exit code = %d, want success", code)
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var total, failed int
	if err := db.QueryRow(`SELECT count(*), sum(is_parsing_error) FROM measurements`).Scan(&total, &failed); err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 3 || failed != 1 {
		t.Errorf("rows = %d, parsing errors = %d; want 3, 1", total, failed)
	}
}

func TestMeasureCmd_BadFlags(t *testing.T) {
	in := t.TempDir()
	writeInventory(t, in, "part-a.csv", "d/s/x")
	a := testApp(testConfig(), &stubStore{})

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing input", args: []string{"inventory", "measure", "-o", t.TempDir()}},
		{name: "missing output", args: []string{"inventory", "measure", "-i", in}},
		{name: "bad run id", args: []string{"inventory", "measure", "-i", in, "-o", t.TempDir(), "--run-id", "550e8400-e29b-41d4-a716-446655440000"}},
		{name: "unknown sink", args: []string{"inventory", "measure", "-i", in, "--sink", "kafka"}},
		{name: "sink without dsn", args: []string{"inventory", "measure", "-i", in, "--sink", "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, code := execute(t, a, "", tt.args...); code != exitcode.ConfigError {
				t.Errorf("exit code = %d, want %d", code, exitcode.ConfigError)
			}
		})
	}
}
