package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSummaryTotals(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	agg := New(clock)
	agg.Add(crawler.PageRecord{Text: "hello world", Language: "en"})
	agg.Add(crawler.PageRecord{Text: "héllo", Language: "fr"})
	agg.Add(crawler.PageRecord{Text: "one two three four", Language: "en"})
	agg.Add(crawler.PageRecord{Text: "", Language: crawler.LanguageUndetermined})
	clock.advance(90 * time.Second)

	s := agg.Summary(crawler.ReasonFinished)
	assert.Equal(t, 4, s.PagesTotal)
	assert.Equal(t, int64(11+6+18), s.BytesTotal)
	assert.Equal(t, int64(11+5+18), s.CharsTotal)
	assert.Equal(t, int64(7), s.WordsTotal)
	assert.InDelta(t, 1.75, s.AvgWordsPg, 1e-9)
	assert.Equal(t, []string{"en", "fr", crawler.LanguageUndetermined}, s.Langs)
	assert.InDelta(t, 90.0, s.CrawlSecs, 1e-9)
	assert.Equal(t, crawler.ReasonFinished, s.Reason)
}

func TestLanguageHistogram(t *testing.T) {
	t.Parallel()

	agg := New(&stepClock{now: time.Unix(0, 0)})
	agg.Add(crawler.PageRecord{Text: "a", Language: crawler.LanguageUndetermined})
	agg.Add(crawler.PageRecord{Text: "b", Language: " EN "})
	agg.Add(crawler.PageRecord{Text: "c", Language: ""})

	snap := agg.Snapshot()
	assert.Equal(t, 3, snap.Pages)
	assert.Equal(t, map[string]int{"en": 1, crawler.LanguageUndetermined: 1}, snap.Languages)
	assert.Equal(t, []string{"en", crawler.LanguageUndetermined}, agg.Summary(crawler.ReasonFinished).Langs)
}

func TestSummaryEmpty(t *testing.T) {
	t.Parallel()

	agg := New(&stepClock{now: time.Unix(0, 0)})
	s := agg.Summary(crawler.ReasonShutdown)
	assert.Zero(t, s.PagesTotal)
	assert.Zero(t, s.AvgWordsPg)
	require.NotNil(t, s.Langs)
	assert.Empty(t, s.Langs)
}

func TestAvgWordsRounded(t *testing.T) {
	t.Parallel()

	agg := New(&stepClock{now: time.Unix(0, 0)})
	agg.Add(crawler.PageRecord{Text: "a"})
	agg.Add(crawler.PageRecord{Text: "a b"})
	agg.Add(crawler.PageRecord{Text: "a b"})
	assert.InDelta(t, 1.67, agg.Summary(crawler.ReasonFinished).AvgWordsPg, 1e-9)
}

func TestConcurrentAdd(t *testing.T) {
	t.Parallel()

	agg := New(&stepClock{now: time.Unix(0, 0)})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Add(crawler.PageRecord{Text: "two words", Language: "en"})
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	assert.Equal(t, 50, snap.Pages)
	assert.Equal(t, int64(100), snap.Words)
	assert.Equal(t, map[string]int{"en": 50}, snap.Languages)
}
