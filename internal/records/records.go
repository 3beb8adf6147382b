// Package records persists page records and the crawl summary as JSON
// documents inside one run location of a blob store.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/hash/md5"
)

// SummaryFileName is the summary document written next to the records.
const SummaryFileName = "crawl_summary.json"

const runDirLayout = "20060102_150405"

// RunDirName names a crawl run location: <domain>_<YYYYmmdd_HHMMSS> in UTC.
func RunDirName(domain string, started time.Time) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.ToLower(domain))
	return safe + "_" + started.UTC().Format(runDirLayout)
}

// Store implements crawler.RecordStore.
type Store struct {
	blobs  crawler.BlobStore
	runDir string
	hasher crawler.Hasher
}

// NewStore writes under runDir within blobs.
func NewStore(blobs crawler.BlobStore, runDir string) *Store {
	return &Store{blobs: blobs, runDir: runDir, hasher: md5.New()}
}

// RunDir returns the run location relative to the blob store root.
func (s *Store) RunDir() string {
	return s.runDir
}

// FileName returns the record file name for a URL: the lowercase hex MD5
// of the URL plus ".json".
func (s *Store) FileName(url string) (string, error) {
	digest, err := s.hasher.Hash([]byte(url))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return digest + ".json", nil
}

// SaveRecord writes record and returns its URI.
func (s *Store) SaveRecord(ctx context.Context, record crawler.PageRecord) (string, error) {
	name, err := s.FileName(record.URL)
	if err != nil {
		return "", err
	}
	return s.put(ctx, name, record)
}

// SaveSummary writes the crawl summary and returns its URI.
func (s *Store) SaveSummary(ctx context.Context, summary crawler.Summary) (string, error) {
	if summary.Langs == nil {
		summary.Langs = []string{}
	}
	return s.put(ctx, SummaryFileName, summary)
}

func (s *Store) put(ctx context.Context, name string, v any) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	uri, err := s.blobs.PutObject(ctx, path.Join(s.runDir, name), "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

// Encode renders v as 2-space indented JSON without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
