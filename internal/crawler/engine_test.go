package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// siteFetcher serves bodies from a map. A body lists the page's links
// separated by spaces; the special body "unsupported" is not extractable.
type siteFetcher struct {
	pages      map[string]string
	redirects  map[string]string
	disallowed map[string]bool
	delay      time.Duration
}

func (f *siteFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return FetchResponse{}, ctx.Err()
		}
	}
	if f.disallowed[req.URL] {
		return FetchResponse{}, &FetchError{URL: req.URL, Err: fmt.Errorf("%w for %q", ErrRobotsDisallowed, "test-agent")}
	}
	final := req.URL
	if target, ok := f.redirects[req.URL]; ok {
		final = target
	}
	body, ok := f.pages[final]
	if !ok {
		return FetchResponse{}, &FetchError{URL: req.URL, Err: errors.New("connection refused")}
	}
	return FetchResponse{URL: final, StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(body)}, nil
}

type linkExtractor struct{}

func (linkExtractor) Extract(_ context.Context, page FetchResponse) (Extraction, error) {
	body := string(page.Body)
	if body == "unsupported" {
		return Extraction{}, fmt.Errorf("%w: image/png", ErrUnsupportedContentType)
	}
	if body == "broken" {
		return Extraction{}, &ExtractionError{URL: page.URL, Stage: "html", Err: errors.New("bad markup")}
	}
	return Extraction{
		Record: PageRecord{URL: page.URL, Text: body, Type: PageTypeHTML},
		Links:  strings.Fields(body),
		Method: "html",
	}, nil
}

type recordingPipeline struct {
	mu        sync.Mutex
	saved     []string
	failURL   string
	finalized []string
}

func (p *recordingPipeline) OnPageProcessed(_ context.Context, rec PageRecord) error {
	if rec.URL == p.failURL {
		return errors.New("disk full")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, rec.URL)
	return nil
}

func (p *recordingPipeline) Finalize(_ context.Context, reason string) (Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, reason)
	return Summary{PagesTotal: len(p.saved), Reason: reason}, nil
}

func (p *recordingPipeline) savedURLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string(nil), p.saved...)
	sort.Strings(out)
	return out
}

func newTestEngine(t *testing.T, cfg EngineConfig, fetcher Fetcher, pipeline Pipeline) *Engine {
	t.Helper()
	scope := NewScope(ScopeConfig{Domain: "example.com", AllowWWW: true})
	e, err := NewEngine(cfg, scope, fetcher, linkExtractor{}, pipeline, nil)
	require.NoError(t, err)
	return e
}

func TestEngineCrawlsDomain(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://example.com/":      "https://example.com/a https://example.com/b https://other.org/x",
			"https://example.com/a":     "https://example.com/ https://www.example.com/c https://example.com/b#frag",
			"https://example.com/b":     "https://example.com/a",
			"https://www.example.com/c": "https://example.com/logo",
			"https://example.com/logo":  "unsupported",
			"https://other.org/x":       "",
		},
	}
	pipeline := &recordingPipeline{}
	e := newTestEngine(t, EngineConfig{StartURL: "https://Example.com", Concurrency: 4}, fetcher, pipeline)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonFinished, summary.Reason)
	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://www.example.com/c",
	}, pipeline.savedURLs())
	assert.Equal(t, []string{ReasonFinished}, pipeline.finalized)
	assert.Equal(t, StateCounts{Extracted: 4, Skipped: 1}, e.StateCounts())
}

func TestEngineRobotsRefusalIsFailure(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://example.com/":        "https://example.com/private https://example.com/open",
			"https://example.com/private": "",
			"https://example.com/open":    "",
		},
		disallowed: map[string]bool{"https://example.com/private": true},
	}
	pipeline := &recordingPipeline{}
	e := newTestEngine(t, EngineConfig{StartURL: "https://example.com/", Concurrency: 2}, fetcher, pipeline)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonFinished, summary.Reason)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/open"}, pipeline.savedURLs())
	assert.Equal(t, StateCounts{Extracted: 2, Failed: 1}, e.StateCounts())
}

func TestEngineFailuresDoNotStopCrawl(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://example.com/":       "https://example.com/broken https://example.com/missing https://example.com/nosave https://example.com/ok",
			"https://example.com/broken": "broken",
			"https://example.com/nosave": "",
			"https://example.com/ok":     "",
		},
	}
	pipeline := &recordingPipeline{failURL: "https://example.com/nosave"}
	e := newTestEngine(t, EngineConfig{StartURL: "https://example.com/", Concurrency: 2}, fetcher, pipeline)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonFinished, summary.Reason)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/ok"}, pipeline.savedURLs())
	assert.Equal(t, StateCounts{Extracted: 2, Failed: 3}, e.StateCounts())
}

func TestEngineMaxPages(t *testing.T) {
	t.Parallel()

	pages := map[string]string{}
	var links []string
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("https://example.com/p%d", i)
		pages[u] = ""
		links = append(links, u)
	}
	pages["https://example.com/"] = strings.Join(links, " ")

	pipeline := &recordingPipeline{}
	e := newTestEngine(t, EngineConfig{StartURL: "https://example.com/", Concurrency: 4, MaxPages: 5}, &siteFetcher{pages: pages}, pipeline)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxPages, summary.Reason)
	assert.Len(t, pipeline.savedURLs(), 5)
	assert.Equal(t, []string{ReasonMaxPages}, pipeline.finalized)
}

func TestEngineShutdown(t *testing.T) {
	t.Parallel()

	pages := map[string]string{"https://example.com/": "https://example.com/slow"}
	pages["https://example.com/slow"] = ""
	fetcher := &siteFetcher{pages: pages, delay: 100 * time.Millisecond}
	pipeline := &recordingPipeline{}
	e := newTestEngine(t, EngineConfig{StartURL: "https://example.com/", Concurrency: 1}, fetcher, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	summary, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonShutdown, summary.Reason)
	assert.Equal(t, []string{ReasonShutdown}, pipeline.finalized)
	assert.Equal(t, []string{"https://example.com/"}, pipeline.savedURLs())
}

func TestEngineRedirectMarksTargetSeen(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{
		pages: map[string]string{
			"https://example.com/":    "https://example.com/old https://example.com/new",
			"https://example.com/new": "",
		},
		redirects: map[string]string{
			"https://example.com/old": "https://example.com/new",
		},
	}
	pipeline := &recordingPipeline{}
	e := newTestEngine(t, EngineConfig{StartURL: "https://example.com/", Concurrency: 1}, fetcher, pipeline)

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/new"}, pipeline.savedURLs())
}

func TestEngineInvalidSeed(t *testing.T) {
	t.Parallel()

	for name, seed := range map[string]string{
		"relative":  "/docs",
		"offdomain": "https://other.org/",
		"scheme":    "ftp://example.com/",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			pipeline := &recordingPipeline{}
			e := newTestEngine(t, EngineConfig{StartURL: seed}, &siteFetcher{}, pipeline)
			_, err := e.Run(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInvocation))
			assert.Empty(t, pipeline.finalized)
		})
	}
}

func TestTerminationReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ReasonFinished, terminationReason(context.Background()))

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errMaxPages)
	assert.Equal(t, ReasonMaxPages, terminationReason(ctx))

	ctx, cancel = context.WithCancelCause(context.Background())
	cancel(nil)
	assert.Equal(t, ReasonShutdown, terminationReason(ctx))

	ctx, cancel = context.WithCancelCause(context.Background())
	cancel(errors.New("metrics server crashed"))
	assert.Equal(t, ReasonError, terminationReason(ctx))
}
