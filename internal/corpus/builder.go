// Package corpus turns a crawl's page records into a deduplicated,
// language-filtered JSON Lines corpus.
package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/hash/sha256"
	"github.com/JakeFAU/sitecorpus/internal/language"
	"github.com/JakeFAU/sitecorpus/internal/metrics"
)

// Outcome is the bucket a record is attributed to.
type Outcome string

// Outcomes, in the order the filters run.
const (
	OutcomeDuplicateURL  Outcome = "duplicate_url"
	OutcomeDuplicateText Outcome = "duplicate_text"
	OutcomeLangFiltered  Outcome = "lang_filtered"
	OutcomeKept          Outcome = "kept"
	OutcomeMalformed     Outcome = "malformed"
)

// Options configures a Builder.
type Options struct {
	// TargetLanguage keeps only records in this language; empty keeps all.
	TargetLanguage string
	// Detector fills in missing languages when a target is set.
	Detector    language.Detector
	DetectChars int
	Hasher      crawler.Hasher
}

// DedupState holds the URLs and text digests seen during one build.
type DedupState struct {
	mu    sync.Mutex
	urls  map[string]struct{}
	texts map[string]struct{}
}

// NewDedupState returns empty dedup sets.
func NewDedupState() *DedupState {
	return &DedupState{
		urls:  make(map[string]struct{}),
		texts: make(map[string]struct{}),
	}
}

// MarkURL records url and reports whether it was new.
func (d *DedupState) MarkURL(url string) bool {
	return d.markIfNew(d.urls, url)
}

// MarkText records a text digest and reports whether it was new.
func (d *DedupState) MarkText(digest string) bool {
	return d.markIfNew(d.texts, digest)
}

func (d *DedupState) markIfNew(set map[string]struct{}, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

// Report counts how records were classified.
type Report struct {
	Total         int    `json:"total"`
	DuplicateURL  int    `json:"duplicate_url"`
	DuplicateText int    `json:"duplicate_text"`
	LangFiltered  int    `json:"lang_filtered"`
	Kept          int    `json:"kept"`
	Malformed     int    `json:"malformed"`
	Output        string `json:"output,omitempty"`
}

func (r *Report) add(outcome Outcome) {
	switch outcome {
	case OutcomeDuplicateURL:
		r.DuplicateURL++
	case OutcomeDuplicateText:
		r.DuplicateText++
	case OutcomeLangFiltered:
		r.LangFiltered++
	case OutcomeKept:
		r.Kept++
	case OutcomeMalformed:
		r.Malformed++
		return
	}
	r.Total++
}

// WriteTo prints the report in the operator-facing layout.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	output := r.Output
	if output == "" {
		output = "-"
	}
	n, err := fmt.Fprintf(w,
		"total read          : %d\nduplicate URLs      : %d\nduplicate texts     : %d\nlanguage filtered   : %d\nkept / written      : %d -> %s\nmalformed skipped   : %d\n",
		r.Total, r.DuplicateURL, r.DuplicateText, r.LangFiltered, r.Kept, output, r.Malformed)
	return int64(n), err
}

// Builder classifies records and streams survivors.
type Builder struct {
	opts   Options
	target string
	dedup  *DedupState
	logger *zap.Logger
}

// NewBuilder creates a Builder with fresh dedup state.
func NewBuilder(opts Options, logger *zap.Logger) *Builder {
	if opts.Hasher == nil {
		opts.Hasher = sha256.New()
	}
	if opts.DetectChars <= 0 {
		opts.DetectChars = language.DefaultSampleChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		opts:   opts,
		target: strings.TrimSpace(opts.TargetLanguage),
		dedup:  NewDedupState(),
		logger: logger,
	}
}

// Classify runs the URL, content and language filters in that order. A
// declared language must equal the target exactly, ignoring case, so "en-GB"
// does not match "en". A missing language is detected and written back into
// record.Language. Safe for concurrent use.
func (b *Builder) Classify(record *crawler.PageRecord) (Outcome, error) {
	if !b.dedup.MarkURL(record.URL) {
		return OutcomeDuplicateURL, nil
	}
	digest, err := b.opts.Hasher.Hash([]byte(record.Text))
	if err != nil {
		return "", fmt.Errorf("hash text: %w", err)
	}
	if !b.dedup.MarkText(digest) {
		return OutcomeDuplicateText, nil
	}
	if b.target == "" {
		return OutcomeKept, nil
	}
	lang := strings.TrimSpace(record.Language)
	if lang == "" {
		lang = language.Resolve(b.opts.Detector, record.Text, b.opts.DetectChars)
		record.Language = lang
	}
	if !strings.EqualFold(lang, b.target) {
		return OutcomeLangFiltered, nil
	}
	return OutcomeKept, nil
}

// Build reads every entry from src and writes kept records to out as JSON
// Lines, in input order. Kept records keep their original fields; only an
// inferred language is added. Unreadable or malformed entries are logged and
// counted but never stop the build.
func (b *Builder) Build(ctx context.Context, src Source, out io.Writer) (Report, error) {
	var (
		report Report
		line   bytes.Buffer
	)
	for entry, readErr := range src {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("build canceled: %w", err)
		}
		if readErr != nil {
			b.logger.Warn("skipping unreadable record", zap.String("file", entry.Name), zap.Error(readErr))
			b.count(&report, OutcomeMalformed)
			continue
		}

		record, raw, err := decodeRecord(entry.Data)
		if err != nil {
			b.logger.Warn("skipping malformed record", zap.String("file", entry.Name), zap.Error(err))
			b.count(&report, OutcomeMalformed)
			continue
		}
		declared := record.Language
		outcome, err := b.Classify(&record)
		if err != nil {
			return report, err
		}
		if outcome == OutcomeKept {
			if err := writeKept(out, &line, raw, declared, record); err != nil {
				return report, fmt.Errorf("write record %s: %w", record.URL, err)
			}
		}
		b.count(&report, outcome)
	}
	return report, nil
}

func writeKept(out io.Writer, line *bytes.Buffer, raw *rawRecord, declared string, record crawler.PageRecord) error {
	if record.Language != declared {
		if err := raw.setString("language", record.Language); err != nil {
			return err
		}
	}
	line.Reset()
	if err := raw.appendLine(line); err != nil {
		return err
	}
	_, err := out.Write(line.Bytes())
	return err
}

func (b *Builder) count(report *Report, outcome Outcome) {
	report.add(outcome)
	metrics.ObserveCorpusRecord(string(outcome))
}
