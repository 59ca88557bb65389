package inventory

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ManifestName is the file name of an inventory manifest.
const ManifestName = "manifest.json"

// Manifest is an S3 inventory manifest.json.
type Manifest struct {
	SourceBucket      string         `json:"sourceBucket"`
	DestinationBucket string         `json:"destinationBucket"`
	Version           string         `json:"version"`
	CreationTimestamp string         `json:"creationTimestamp"`
	FileFormat        string         `json:"fileFormat"`
	FileSchema        string         `json:"fileSchema"`
	Files             []ManifestFile `json:"files"`
}

// ManifestFile is one partition listed in a manifest.
type ManifestFile struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	MD5Checksum string `json:"MD5checksum"`
}

// LoadManifest reads and decodes a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// Created returns the manifest creation time. Manifests store it as epoch
// milliseconds.
func (m *Manifest) Created() time.Time {
	ms, err := strconv.ParseInt(m.CreationTimestamp, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Columns returns the snake-case column names declared by the manifest.
// CSV manifests list CamelCase names separated by commas; Parquet and ORC
// manifests carry a schema message.
func (m *Manifest) Columns() []string {
	schema := strings.TrimSpace(m.FileSchema)
	if schema == "" {
		return nil
	}
	var names []string
	if strings.HasPrefix(schema, "message") || strings.HasPrefix(schema, "struct<") {
		names = schemaFieldNames(schema)
	} else {
		for _, name := range strings.Split(schema, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	for i, name := range names {
		names[i] = SnakeCase(name)
	}
	return names
}

func schemaFieldNames(schema string) []string {
	var names []string
	if body, ok := strings.CutPrefix(schema, "struct<"); ok {
		for _, field := range strings.Split(strings.TrimSuffix(body, ">"), ",") {
			if name, _, ok := strings.Cut(field, ":"); ok {
				names = append(names, strings.TrimSpace(name))
			}
		}
		return names
	}
	if _, body, ok := strings.Cut(schema, "{"); ok {
		schema = strings.TrimSuffix(strings.TrimSpace(body), "}")
	}
	for _, decl := range strings.Split(schema, ";") {
		f := strings.Fields(decl)
		if len(f) >= 3 {
			names = append(names, f[2])
		}
	}
	return names
}

// SnakeCase converts CamelCase column names such as LastModifiedDate or
// ETag to snake case. Names already in snake case are unchanged.
func SnakeCase(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i, c := range r {
		if unicode.IsUpper(c) {
			if i > 0 && (unicode.IsLower(r[i-1]) || (i+1 < len(r) && unicode.IsLower(r[i+1]) && r[i-1] != '_')) {
				b.WriteByte('_')
			}
			c = unicode.ToLower(c)
		}
		b.WriteRune(c)
	}
	return b.String()
}

// LatestManifest finds the newest manifest.json below dir.
func LatestManifest(dir string) (*Manifest, string, error) {
	var (
		latest *Manifest
		path   string
	)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestName {
			return nil
		}
		m, err := LoadManifest(p)
		if err != nil {
			return err
		}
		if latest == nil || m.Created().After(latest.Created()) {
			latest, path = m, p
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("find manifest in %s: %w", dir, err)
	}
	if latest == nil {
		return nil, "", fmt.Errorf("find manifest in %s: %w", dir, fs.ErrNotExist)
	}
	return latest, path, nil
}
