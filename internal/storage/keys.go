package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// OutputKey names a published measurement partition.
type OutputKey struct {
	Prefix    string
	RunID     string // UUIDv7 of the measurement run
	Partition string
}

func (k OutputKey) Key() string {
	return path.Join(k.Prefix, k.RunID, k.Partition+".parquet")
}

// SummaryKey names the run summary published next to the partitions.
func SummaryKey(prefix, runID string) string {
	return path.Join(prefix, runID, "_summary.json")
}

// LocalPath maps an object key under prefix to a file inside dir.
// Keys that would escape dir are rejected.
func LocalPath(dir, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("key %q does not map to a path under %s", key, dir)
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}
