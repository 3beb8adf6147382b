package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

type fixedDetector struct {
	code string
	ok   bool
}

func (d fixedDetector) Detect(string) (string, bool) { return d.code, d.ok }

func page(url, lang, text string) crawler.PageRecord {
	return crawler.PageRecord{
		URL:              url,
		Timestamp:        "2024-05-01T12:00:00Z",
		Status:           200,
		ContentType:      "text/html",
		Language:         lang,
		ServerLicense:    crawler.LicenseUnknown,
		RobotsTxtAllowed: true,
		Type:             crawler.PageTypeHTML,
		Text:             text,
	}
}

func writeRecord(t *testing.T, dir, name string, rec crawler.PageRecord) {
	t.Helper()
	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func decodeLines(t *testing.T, out []byte) []crawler.PageRecord {
	t.Helper()
	var recs []crawler.PageRecord
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		var rec crawler.PageRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, scanner.Err())
	return recs
}

func crawlDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeRecord(t, dir, "a.json", page("https://example.com/", "en", "welcome home"))
	writeRecord(t, dir, "b.json", page("https://example.com/", "en", "welcome home, again"))
	writeRecord(t, dir, "c.json", page("https://example.com/copy", "en", "welcome home"))
	writeRecord(t, dir, "d.json", page("https://example.com/es", "es", "bienvenidos"))
	writeRecord(t, dir, "e.json", page("https://example.com/about", "EN", "about us"))
	return dir
}

func TestBuildEndToEnd(t *testing.T) {
	t.Parallel()

	dir := crawlDir(t)
	writeRecord(t, dir, "crawl_summary.json", page("https://ignored.example/", "en", "summary"))
	src, err := DirSource(dir)
	require.NoError(t, err)

	var out bytes.Buffer
	report, err := NewBuilder(Options{TargetLanguage: "en"}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)

	assert.Equal(t, Report{Total: 5, DuplicateURL: 1, DuplicateText: 1, LangFiltered: 1, Kept: 2}, report)
	assert.Equal(t, report.Total, report.Kept+report.DuplicateURL+report.DuplicateText+report.LangFiltered)

	kept := decodeLines(t, out.Bytes())
	require.Len(t, kept, 2)
	assert.Equal(t, "https://example.com/", kept[0].URL)
	assert.Equal(t, "welcome home", kept[0].Text, "the first file wins")
	assert.Equal(t, "https://example.com/about", kept[1].URL)
}

func TestBuildIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := crawlDir(t)
	run := func() []byte {
		src, err := DirSource(dir)
		require.NoError(t, err)
		var out bytes.Buffer
		_, err = NewBuilder(Options{TargetLanguage: "en"}, nil).Build(context.Background(), src, &out)
		require.NoError(t, err)
		return out.Bytes()
	}
	first := run()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, run())
}

func TestBuildWithoutTargetKeepsAllLanguages(t *testing.T) {
	t.Parallel()

	src := SliceSource(
		page("https://example.com/en", "en", "one"),
		page("https://example.com/fr", "fr", "deux"),
		page("https://example.com/und", "", "drei"),
	)
	var out bytes.Buffer
	report, err := NewBuilder(Options{}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Kept)

	kept := decodeLines(t, out.Bytes())
	assert.Empty(t, kept[2].Language, "no detection without a target")
}

func TestBuildLanguageFilter(t *testing.T) {
	t.Parallel()

	src := SliceSource(
		page("https://example.com/en", "en", "one"),
		page("https://example.com/fr", "fr", "deux"),
		page("https://example.com/und", "und", "drei"),
	)
	var out bytes.Buffer
	report, err := NewBuilder(Options{TargetLanguage: "EN"}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, 2, report.LangFiltered)
	assert.Equal(t, "https://example.com/en", decodeLines(t, out.Bytes())[0].URL)
}

func TestBuildLanguageMustMatchExactly(t *testing.T) {
	t.Parallel()

	src := SliceSource(
		page("https://example.com/gb", "en-GB", "colour"),
		page("https://example.com/us", " En ", "color"),
	)
	var out bytes.Buffer
	report, err := NewBuilder(Options{TargetLanguage: "en"}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 2, LangFiltered: 1, Kept: 1}, report)
	assert.Equal(t, "https://example.com/us", decodeLines(t, out.Bytes())[0].URL)
}

func TestBuildWritesRecordsBackUnchanged(t *testing.T) {
	t.Parallel()

	rawEntries := func(lines ...string) Source {
		return func(yield func(Entry, error) bool) {
			for i, line := range lines {
				if !yield(Entry{Name: string(rune('a' + i)), Data: []byte(line)}, nil) {
					return
				}
			}
		}
	}
	src := rawEntries(
		`{"url":"https://example.com/a","text":"t <b>","language":"en","meta_robots":null,"crawl_depth":3}`,
		`{
  "url": "https://example.com/b",
  "text": "other",
  "extra": {"nested": [1, 2]}
}`,
	)
	var out bytes.Buffer
	builder := NewBuilder(Options{TargetLanguage: "en", Detector: fixedDetector{code: "en", ok: true}}, nil)
	report, err := builder.Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Kept)

	assert.Equal(t,
		`{"url":"https://example.com/a","text":"t <b>","language":"en","meta_robots":null,"crawl_depth":3}`+"\n"+
			`{"url":"https://example.com/b","text":"other","extra":{"nested":[1,2]},"language":"en"}`+"\n",
		out.String())
}

func TestBuildContinuesPastUnreadableEntry(t *testing.T) {
	t.Parallel()

	good := func(url, text string) []byte {
		data, err := json.Marshal(page(url, "en", text))
		require.NoError(t, err)
		return data
	}
	src := Source(func(yield func(Entry, error) bool) {
		if !yield(Entry{Name: "a.json", Data: good("https://example.com/a", "a")}, nil) {
			return
		}
		if !yield(Entry{Name: "b.json"}, errors.New("read b.json: permission denied")) {
			return
		}
		yield(Entry{Name: "c.json", Data: good("https://example.com/c", "c")}, nil)
	})

	var out bytes.Buffer
	report, err := NewBuilder(Options{}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 2, Kept: 2, Malformed: 1}, report)
	assert.Len(t, decodeLines(t, out.Bytes()), 2)
}

func TestDirSourceYieldsReadFailuresPerEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeRecord(t, dir, "a.json", page("https://example.com/a", "en", "a"))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.json"), filepath.Join(dir, "b.json")))
	writeRecord(t, dir, "c.json", page("https://example.com/c", "en", "c"))

	src, err := DirSource(dir)
	require.NoError(t, err)
	var out bytes.Buffer
	report, err := NewBuilder(Options{}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 2, Kept: 2, Malformed: 1}, report)
}

func TestBuildDetectsMissingLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		detector fixedDetector
		kept     int
		wantLang string
	}{
		{name: "detected", detector: fixedDetector{code: "en", ok: true}, kept: 1, wantLang: "en"},
		{name: "detection fails", detector: fixedDetector{}, kept: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			builder := NewBuilder(Options{TargetLanguage: "en", Detector: tt.detector}, nil)
			report, err := builder.Build(context.Background(), SliceSource(page("https://example.com/", "", "hello")), &out)
			require.NoError(t, err)
			assert.Equal(t, tt.kept, report.Kept)
			assert.Equal(t, 1, report.Total)
			if tt.kept > 0 {
				assert.Equal(t, tt.wantLang, decodeLines(t, out.Bytes())[0].Language)
			}
		})
	}
}

func TestBuildSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeRecord(t, dir, "a.json", page("https://example.com/", "en", "text"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte(`{"text":"no url"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	src, err := DirSource(dir)
	require.NoError(t, err)
	var out bytes.Buffer
	report, err := NewBuilder(Options{}, nil).Build(context.Background(), src, &out)
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 1, Kept: 1, Malformed: 2}, report)
}

func TestDirSourceWalksSubdirectoriesInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeRecord(t, dir, "z.json", page("https://example.com/z", "en", "z"))
	writeRecord(t, filepath.Join(dir, "sub"), "a.json", page("https://example.com/sub", "en", "sub"))
	writeRecord(t, dir, "a.json", page("https://example.com/a", "en", "a"))

	src, err := DirSource(dir)
	require.NoError(t, err)
	var names []string
	for entry, err := range src {
		require.NoError(t, err)
		rel, relErr := filepath.Rel(dir, entry.Name)
		require.NoError(t, relErr)
		names = append(names, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a.json", "sub/a.json", "z.json"}, names)
}

func TestDirSourceRejectsNonDirectory(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))

	_, err := DirSource(file)
	require.ErrorIs(t, err, crawler.ErrInvalidInvocation)
	_, err = DirSource(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, crawler.ErrInvalidInvocation)
}

func TestBuildCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(Options{}, nil).Build(ctx, SliceSource(page("https://example.com/", "en", "x")), &bytes.Buffer{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyConcurrentDedup(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(Options{}, nil)
	var kept atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := page("https://example.com/same", "en", "same")
			outcome, err := builder.Classify(&rec)
			assert.NoError(t, err)
			if outcome == OutcomeKept {
				kept.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), kept.Load())
}

func TestReportWriteTo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := Report{Total: 4, DuplicateURL: 1, Kept: 3, Output: "corpus.jsonl"}.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "total read          : 4")
	assert.Contains(t, buf.String(), "kept / written      : 3 -> corpus.jsonl")
	assert.True(t, strings.HasSuffix(buf.String(), "malformed skipped   : 0\n"))
}
