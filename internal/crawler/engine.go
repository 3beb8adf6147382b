package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/frontier"
	"github.com/JakeFAU/sitecorpus/internal/metrics"
)

var errMaxPages = errors.New("page limit reached")

// EngineConfig controls one crawl session.
type EngineConfig struct {
	StartURL    string
	Concurrency int
	// MaxPages bounds persisted pages; 0 means unlimited.
	MaxPages int
}

// Engine walks one domain breadth-first from a seed URL with a fixed pool of
// workers sharing a frontier.
type Engine struct {
	cfg       EngineConfig
	scope     *Scope
	fetcher   Fetcher
	extractor Extractor
	pipeline  Pipeline
	logger    *zap.Logger

	mu         sync.Mutex
	counts     StateCounts
	persisted  int
	persisting int
}

// NewEngine wires an Engine. All collaborators are required.
func NewEngine(cfg EngineConfig, scope *Scope, fetcher Fetcher, extractor Extractor, pipeline Pipeline, logger *zap.Logger) (*Engine, error) {
	if scope == nil || fetcher == nil || extractor == nil || pipeline == nil {
		return nil, fmt.Errorf("scope, fetcher, extractor and pipeline are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		scope:     scope,
		fetcher:   fetcher,
		extractor: extractor,
		pipeline:  pipeline,
		logger:    logger,
	}, nil
}

// StateCounts returns the terminal state tally so far.
func (e *Engine) StateCounts() StateCounts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts
}

// Run crawls until the frontier is exhausted, the page limit is reached or
// ctx is canceled, then finalizes the pipeline exactly once. Pages already
// extracted when ctx is canceled are still persisted.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	seed, err := NormalizeURL(e.cfg.StartURL)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: start url: %v", ErrInvalidInvocation, err)
	}
	if !e.scope.Allows(seed) {
		return Summary{}, fmt.Errorf("%w: start url %s is outside %s", ErrInvalidInvocation, seed, e.scope.Domain())
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	front := frontier.New()
	front.Add(seed)
	metrics.ObservePage(seed, string(PageStatePending), 0)
	stopFrontier := context.AfterFunc(runCtx, front.Close)
	defer stopFrontier()

	e.logger.Info("crawl started",
		zap.String("domain", e.scope.Domain()),
		zap.String("start_url", seed),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Int("max_pages", e.cfg.MaxPages),
	)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(runCtx, cancel, front)
		}()
	}
	wg.Wait()

	reason := terminationReason(runCtx)
	counts := e.StateCounts()
	e.logger.Info("crawl finished",
		zap.String("reason", reason),
		zap.Int("visited", front.Visited()),
		zap.Int("extracted", counts.Extracted),
		zap.Int("skipped", counts.Skipped),
		zap.Int("failed", counts.Failed),
	)

	summary, err := e.pipeline.Finalize(context.WithoutCancel(ctx), reason)
	if err != nil {
		return summary, fmt.Errorf("finalize crawl: %w", err)
	}
	return summary, nil
}

func terminationReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return ReasonFinished
	case errors.Is(cause, errMaxPages):
		return ReasonMaxPages
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		return ReasonShutdown
	default:
		return ReasonError
	}
}

func (e *Engine) work(ctx context.Context, stop context.CancelCauseFunc, front *frontier.Frontier) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		url, ok := front.Next()
		if !ok {
			return
		}
		if ctx.Err() == nil {
			e.processSafely(ctx, stop, front, url)
		}
		front.Done()
	}
}

func (e *Engine) processSafely(ctx context.Context, stop context.CancelCauseFunc, front *frontier.Frontier, url string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("page processing panicked", zap.String("url", url), zap.Any("panic", r))
			e.finish(url, PageStateFailed, 0)
		}
	}()
	e.process(ctx, stop, front, url)
}

func (e *Engine) process(ctx context.Context, stop context.CancelCauseFunc, front *frontier.Frontier, url string) {
	metrics.ObservePage(url, string(PageStateFetching), 0)

	resp, err := e.fetcher.Fetch(ctx, FetchRequest{URL: url})
	if errors.Is(err, ErrRobotsDisallowed) {
		e.logger.Info("disallowed by robots.txt", zap.String("url", url))
		e.finish(url, PageStateFailed, 0)
		return
	}
	if err != nil {
		e.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		e.finish(url, PageStateFailed, 0)
		return
	}
	metrics.ObserveFetch(resp.UsedHeadless, resp.Duration)
	if resp.URL == "" {
		resp.URL = url
	}
	if final, err := NormalizeURL(resp.URL); err == nil && final != url {
		if !front.MarkSeen(final) {
			e.logger.Debug("redirect target already seen", zap.String("url", url), zap.String("final_url", final))
			e.finish(url, PageStateSkipped, len(resp.Body))
			return
		}
		if !e.scope.Allows(final) {
			e.logger.Debug("redirected off domain", zap.String("url", url), zap.String("final_url", final))
			e.finish(url, PageStateSkipped, len(resp.Body))
			return
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Warn("unexpected status", zap.String("url", url), zap.Int("status_code", resp.StatusCode))
		e.finish(url, PageStateFailed, len(resp.Body))
		return
	}

	extraction, err := e.extractor.Extract(ctx, resp)
	switch {
	case errors.Is(err, ErrUnsupportedContentType):
		e.logger.Debug("unsupported content type", zap.String("url", url), zap.Error(err))
		e.finish(url, PageStateSkipped, len(resp.Body))
		return
	case err != nil:
		e.logger.Warn("extraction failed", zap.String("url", url), zap.Error(err))
		e.finish(url, PageStateFailed, len(resp.Body))
		return
	}
	metrics.ObserveExtraction(extraction.Method)

	if !e.claimSlot() {
		e.finish(url, PageStateSkipped, len(resp.Body))
		return
	}
	// Persist even when the crawl is stopping; the page is already extracted.
	err = e.pipeline.OnPageProcessed(context.WithoutCancel(ctx), extraction.Record)
	limitReached := e.releaseSlot(err == nil)
	if err != nil {
		e.logger.Warn("persist failed", zap.String("url", url), zap.Error(err))
		e.finish(url, PageStateFailed, len(resp.Body))
		return
	}
	e.finish(url, PageStateExtracted, len(resp.Body))

	if limitReached {
		stop(errMaxPages)
		return
	}
	if ctx.Err() != nil {
		return
	}
	for _, raw := range extraction.Links {
		link, err := NormalizeURL(raw)
		if err != nil || !e.scope.Allows(link) {
			continue
		}
		if front.Add(link) {
			metrics.ObservePage(link, string(PageStatePending), 0)
		}
	}
}

// claimSlot reserves room under MaxPages for one page about to be persisted.
func (e *Engine) claimSlot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.MaxPages > 0 && e.persisted+e.persisting >= e.cfg.MaxPages {
		return false
	}
	e.persisting++
	return true
}

// releaseSlot settles a claimed slot and reports whether the limit is now reached.
func (e *Engine) releaseSlot(persisted bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persisting--
	if persisted {
		e.persisted++
	}
	return e.cfg.MaxPages > 0 && e.persisted >= e.cfg.MaxPages
}

func (e *Engine) finish(url string, state PageState, bytes int) {
	e.mu.Lock()
	switch state {
	case PageStateExtracted:
		e.counts.Extracted++
	case PageStateSkipped:
		e.counts.Skipped++
	case PageStateFailed:
		e.counts.Failed++
	}
	e.mu.Unlock()
	metrics.ObservePage(url, string(state), bytes)
}
