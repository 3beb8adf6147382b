// Package detector decides when an HTTP response should be re-rendered in a
// headless browser.
package detector

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

const defaultThreshold = 2048

// Heuristic promotes thin or script-heavy HTML pages.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses 2KiB.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Markers left by client-side frameworks in otherwise empty shells.
var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether resp looks like it needs scripts to render.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || !isHTML(resp.Headers.Get("Content-Type")) {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.EqualFold(mediaType, "text/html")
}

// scriptHeavy reports whether <script> elements cover at least a quarter of body.
func scriptHeavy(body []byte) bool {
	lower := bytes.ToLower(body)
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		i := bytes.Index(lower[pos:], []byte("<script"))
		if i < 0 {
			break
		}
		start := pos + i
		end := bytes.Index(lower[start:], []byte("</script>"))
		if end < 0 {
			// Unterminated script runs to the end of the document.
			covered += total - start
			break
		}
		next := start + end + len("</script>")
		covered += next - start
		pos = next
	}
	return total > 0 && covered*4 >= total
}
