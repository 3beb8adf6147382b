// Package pipeline persists processed pages, keeps corpus statistics and
// writes the crawl summary when the session ends.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/stats"
)

// EventPageSaved tags page notifications.
const EventPageSaved = "page.saved"

// PageNotice is published after a record is persisted.
type PageNotice struct {
	RunID     string           `json:"run_id"`
	URL       string           `json:"url"`
	URI       string           `json:"uri"`
	Type      crawler.PageType `json:"type"`
	Language  string           `json:"language"`
	Timestamp string           `json:"timestamp"`
	Words     int              `json:"words"`
}

// Deps are the pipeline collaborators. Publisher and Summaries are optional.
type Deps struct {
	Records   crawler.RecordStore
	Stats     *stats.Aggregator
	Publisher crawler.Publisher
	Summaries crawler.SummaryStore
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Pipeline implements crawler.Pipeline.
type Pipeline struct {
	run  crawler.RunInfo
	deps Deps

	saved atomic.Int64

	once        sync.Once
	summary     crawler.Summary
	finalizeErr error
}

// New constructs a Pipeline for one crawl run.
func New(run crawler.RunInfo, deps Deps) (*Pipeline, error) {
	if deps.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if deps.Stats == nil {
		return nil, fmt.Errorf("stats aggregator is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{run: run, deps: deps}, nil
}

// Stats exposes the live aggregator.
func (p *Pipeline) Stats() *stats.Aggregator {
	return p.deps.Stats
}

// OnPageProcessed persists record and folds it into the totals. A record that
// cannot be stored is reported as an error and is not counted.
func (p *Pipeline) OnPageProcessed(ctx context.Context, record crawler.PageRecord) error {
	uri, err := p.deps.Records.SaveRecord(ctx, record)
	if err != nil {
		return fmt.Errorf("save record %s: %w", record.URL, err)
	}
	p.deps.Stats.Add(record)
	n := p.saved.Add(1)
	p.deps.Logger.Info("page saved",
		zap.Int64("n", n),
		zap.String("url", record.URL),
		zap.String("uri", uri),
		zap.String("language", record.Language),
	)

	if p.deps.Publisher != nil {
		notice := PageNotice{
			RunID:     p.run.ID,
			URL:       record.URL,
			URI:       uri,
			Type:      record.Type,
			Language:  record.Language,
			Timestamp: record.Timestamp,
			Words:     len(strings.Fields(record.Text)),
		}
		if _, err := p.deps.Publisher.Publish(ctx, EventPageSaved, notice); err != nil {
			p.deps.Logger.Warn("publish page notice failed", zap.String("url", record.URL), zap.Error(err))
		}
	}
	return nil
}

// Finalize writes the summary exactly once. Later calls return the first result.
func (p *Pipeline) Finalize(ctx context.Context, reason string) (crawler.Summary, error) {
	p.once.Do(func() {
		p.summary = p.deps.Stats.Summary(reason)
		uri, err := p.deps.Records.SaveSummary(ctx, p.summary)
		if err != nil {
			p.finalizeErr = fmt.Errorf("save summary: %w", err)
			return
		}
		p.deps.Logger.Info("summary saved",
			zap.String("uri", uri),
			zap.String("reason", reason),
			zap.Int("pages_total", p.summary.PagesTotal),
		)

		if p.deps.Summaries != nil {
			run := p.run
			run.FinishedAt = p.deps.Clock.Now()
			if err := p.deps.Summaries.StoreSummary(ctx, run, p.summary); err != nil {
				p.deps.Logger.Warn("store summary row failed", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
	})
	return p.summary, p.finalizeErr
}
