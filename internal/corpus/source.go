package corpus

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/records"
)

// Entry is one raw record file.
type Entry struct {
	Name string
	Data []byte
}

// Source yields entries in a stable order. An entry paired with a non-nil
// error could not be read; the build counts it as malformed and moves on.
type Source = iter.Seq2[Entry, error]

// DirSource walks dir recursively and yields every *.json file except crawl
// summaries, ordered by path.
func DirSource(dir string) (Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: input %q: %w", crawler.ErrInvalidInvocation, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", crawler.ErrInvalidInvocation, dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") || d.Name() == records.SummaryFileName {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", crawler.ErrInvalidInvocation, dir, err)
	}
	sort.Strings(paths)

	return func(yield func(Entry, error) bool) {
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				if !yield(Entry{Name: path}, fmt.Errorf("read %s: %w", path, err)) {
					return
				}
				continue
			}
			if !yield(Entry{Name: path, Data: data}, nil) {
				return
			}
		}
	}, nil
}

// SliceSource yields records in order, mainly for tests and in-process callers.
func SliceSource(recs ...crawler.PageRecord) Source {
	return func(yield func(Entry, error) bool) {
		for i, rec := range recs {
			data, err := records.Encode(rec)
			if !yield(Entry{Name: fmt.Sprintf("record-%d", i), Data: data}, err) {
				return
			}
		}
	}
}
