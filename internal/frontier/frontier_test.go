// Package frontier includes tests for the crawl frontier.
package frontier

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDeduplicates(t *testing.T) {
	t.Parallel()

	f := New()
	require.True(t, f.Add("https://example.com/a"))
	assert.False(t, f.Add("https://example.com/a"))
	assert.False(t, f.Add(""))
	assert.Equal(t, 1, f.Visited())
	assert.Equal(t, 1, f.Pending())
}

func TestConcurrentAddSingleWinner(t *testing.T) {
	t.Parallel()

	f := New()
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Add("https://example.com/same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins.Load())
}

func TestNextFIFOAndExhaustion(t *testing.T) {
	t.Parallel()

	f := New()
	f.Add("a")
	f.Add("b")

	first, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, "a", first)
	f.Done()

	second, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, "b", second)
	f.Done()

	_, ok = f.Next()
	assert.False(t, ok, "frontier with nothing pending or in flight is exhausted")
	assert.False(t, f.Add("c"), "exhausted frontier rejects new work")
}

func TestNextWaitsForInFlightDiscoveries(t *testing.T) {
	t.Parallel()

	f := New()
	f.Add("seed")
	seed, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, "seed", seed)

	got := make(chan string, 1)
	go func() {
		url, ok := f.Next()
		if ok {
			got <- url
			f.Done()
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	f.Add("child")
	f.Done()

	select {
	case url := <-got:
		assert.Equal(t, "child", url)
	case <-time.After(time.Second):
		t.Fatal("waiter did not receive discovered url")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	t.Parallel()

	f := New()
	f.Add("seed")
	_, ok := f.Next()
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := f.Next()
		done <- ok
	}()

	f.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake waiter")
	}
}

func TestMarkSeenBlocksLaterAdd(t *testing.T) {
	t.Parallel()

	f := New()
	assert.True(t, f.MarkSeen("https://example.com/final"))
	assert.False(t, f.MarkSeen("https://example.com/final"))
	assert.False(t, f.Add("https://example.com/final"))
	assert.Equal(t, 0, f.Pending())
}
