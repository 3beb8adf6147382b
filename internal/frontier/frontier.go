// Package frontier holds the URLs known but not yet fetched during a crawl.
package frontier

import (
	"sync"
)

// Frontier is a FIFO of pending URLs plus the in-session visitation set.
// All state sits behind one mutex so concurrent workers that discover the
// same link can never both enqueue it.
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	visited  map[string]struct{}
	pending  []string
	inFlight int
	closed   bool
}

// New constructs an empty frontier.
func New() *Frontier {
	f := &Frontier{
		visited: make(map[string]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Add enqueues url unless it was seen before or the frontier is closed.
// It returns true only for the call that actually enqueued the URL.
func (f *Frontier) Add(url string) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, ok := f.visited[url]; ok {
		return false
	}
	f.visited[url] = struct{}{}
	f.pending = append(f.pending, url)
	f.cond.Signal()
	return true
}

// MarkSeen records url as visited without enqueuing it, e.g. a redirect
// target. It reports whether url was new to the frontier.
func (f *Frontier) MarkSeen(url string) bool {
	if url == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visited[url]; ok {
		return false
	}
	f.visited[url] = struct{}{}
	return true
}

// Next blocks until a URL is available. It returns false once the frontier is
// closed, or exhausted: nothing pending and nothing in flight that could add more.
// Every successful Next must be paired with Done.
func (f *Frontier) Next() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed {
			return "", false
		}
		if len(f.pending) > 0 {
			url := f.pending[0]
			f.pending[0] = ""
			f.pending = f.pending[1:]
			f.inFlight++
			return url, true
		}
		if f.inFlight == 0 {
			f.closed = true
			f.cond.Broadcast()
			return "", false
		}
		f.cond.Wait()
	}
}

// Done marks one URL returned by Next as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	f.cond.Broadcast()
}

// Close stops the frontier and wakes every waiter.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()
}

// Visited returns the number of unique URLs seen.
func (f *Frontier) Visited() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// Pending returns the number of URLs waiting to be fetched.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
