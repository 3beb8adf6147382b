// Package stats keeps running corpus totals for one crawl session.
package stats

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

// Aggregator accumulates totals over successfully persisted records.
// All methods are safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	clock   crawler.Clock
	started time.Time
	pages   int
	bytes   int64
	chars   int64
	words   int64
	langs   map[string]int
}

// Snapshot is a point-in-time copy of the running totals.
type Snapshot struct {
	Pages     int            `json:"pages"`
	Bytes     int64          `json:"bytes"`
	Chars     int64          `json:"chars"`
	Words     int64          `json:"words"`
	Languages map[string]int `json:"languages"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   float64        `json:"elapsed_secs"`
}

// New starts an aggregator at the clock's current time.
func New(clock crawler.Clock) *Aggregator {
	return &Aggregator{
		clock:   clock,
		started: clock.Now(),
		langs:   make(map[string]int),
	}
}

// Add folds one record into the totals.
func (a *Aggregator) Add(record crawler.PageRecord) {
	text := record.Text
	lang := strings.ToLower(strings.TrimSpace(record.Language))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages++
	a.bytes += int64(len(text))
	a.chars += int64(utf8.RuneCountInString(text))
	a.words += int64(len(strings.Fields(text)))
	if lang != "" {
		a.langs[lang]++
	}
}

// Snapshot returns a copy of the current totals.
func (a *Aggregator) Snapshot() Snapshot {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()
	langs := make(map[string]int, len(a.langs))
	for k, v := range a.langs {
		langs[k] = v
	}
	return Snapshot{
		Pages:     a.pages,
		Bytes:     a.bytes,
		Chars:     a.chars,
		Words:     a.words,
		Languages: langs,
		StartedAt: a.started,
		Elapsed:   now.Sub(a.started).Seconds(),
	}
}

// Summary builds the crawl summary for the given termination reason.
func (a *Aggregator) Summary(reason string) crawler.Summary {
	snap := a.Snapshot()
	langs := make([]string, 0, len(snap.Languages))
	for lang := range snap.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	var avg float64
	if snap.Pages > 0 {
		avg = math.Round(float64(snap.Words)/float64(snap.Pages)*100) / 100
	}
	return crawler.Summary{
		PagesTotal: snap.Pages,
		CrawlSecs:  snap.Elapsed,
		BytesTotal: snap.Bytes,
		CharsTotal: snap.Chars,
		WordsTotal: snap.Words,
		AvgWordsPg: avg,
		Langs:      langs,
		Reason:     reason,
	}
}
