// Package extract turns fetched pages into normalized page records.
//
// Dispatch is evaluated in order: HTML by declared content type, PDF by URL
// suffix, plain text by content type or .txt/.csv suffix. Anything else is
// skipped with crawler.ErrUnsupportedContentType.
package extract

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
	"github.com/JakeFAU/sitecorpus/internal/language"
)

// Extraction methods reported alongside each record.
const (
	MethodHTML    = "html"
	MethodText    = "txt"
	MethodPDFText = "pdf-text"
	MethodPDFOCR  = "pdf-ocr"
)

// Config controls metadata inference.
type Config struct {
	// DetectChars is how many characters of extracted text feed the language detector.
	DetectChars int
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	cfg      Config
	detector language.Detector
	pdf      *PDFChain
	clock    crawler.Clock
	logger   *zap.Logger
}

// New constructs an Extractor. A nil pdf chain makes PDF pages fail extraction.
func New(cfg Config, detector language.Detector, pdf *PDFChain, clock crawler.Clock, logger *zap.Logger) *Extractor {
	if cfg.DetectChars <= 0 {
		cfg.DetectChars = language.DefaultSampleChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:      cfg,
		detector: detector,
		pdf:      pdf,
		clock:    clock,
		logger:   logger,
	}
}

// Extract dispatches page to the matching extraction path.
func (e *Extractor) Extract(ctx context.Context, page crawler.FetchResponse) (crawler.Extraction, error) {
	contentType := page.Headers.Get("Content-Type")
	lowerType := strings.ToLower(contentType)
	switch {
	case strings.Contains(lowerType, "text/html"):
		return e.extractHTML(page)
	case crawler.HasPathSuffix(page.URL, ".pdf"):
		return e.extractPDF(ctx, page)
	case strings.Contains(lowerType, "text/plain") || crawler.HasPathSuffix(page.URL, ".txt", ".csv"):
		return e.extractText(page), nil
	default:
		return crawler.Extraction{}, fmt.Errorf("%w: %q", crawler.ErrUnsupportedContentType, contentType)
	}
}

func (e *Extractor) extractHTML(page crawler.FetchResponse) (crawler.Extraction, error) {
	doc, err := parseHTML(page.Body, page.Headers.Get("Content-Type"))
	if err != nil {
		return crawler.Extraction{}, &crawler.ExtractionError{URL: page.URL, Stage: "html", Err: err}
	}
	rec := e.baseRecord(page)
	rec.Type = crawler.PageTypeHTML
	rec.RawHTML = doc.markup
	rec.Text = doc.visibleText()
	rec.MetaRobots = doc.metaRobots()
	rec.ServerLicense = doc.license()
	rec.Language = e.inferLanguage(doc.declaredLanguage(), page.Headers, rec.Text)

	return crawler.Extraction{
		Record: rec,
		Links:  doc.links(rec.URL),
		Method: MethodHTML,
	}, nil
}

func (e *Extractor) extractPDF(ctx context.Context, page crawler.FetchResponse) (crawler.Extraction, error) {
	if e.pdf == nil {
		return crawler.Extraction{}, &crawler.ExtractionError{
			URL:   page.URL,
			Stage: "pdf",
			Err:   fmt.Errorf("pdf extraction not configured"),
		}
	}
	text, method, err := e.pdf.Extract(ctx, page.Body)
	if err != nil {
		return crawler.Extraction{}, &crawler.ExtractionError{URL: page.URL, Stage: "pdf", Err: err}
	}
	rec := e.baseRecord(page)
	rec.Type = crawler.PageTypePDF
	rec.Text = text
	rec.Language = e.inferLanguage("", page.Headers, text)
	return crawler.Extraction{Record: rec, Method: method}, nil
}

func (e *Extractor) extractText(page crawler.FetchResponse) crawler.Extraction {
	rec := e.baseRecord(page)
	rec.Type = crawler.PageTypeTXT
	rec.Text = strings.ToValidUTF8(string(page.Body), "�")
	rec.Language = e.inferLanguage("", page.Headers, rec.Text)
	return crawler.Extraction{Record: rec, Method: MethodText}
}

func (e *Extractor) baseRecord(page crawler.FetchResponse) crawler.PageRecord {
	url := page.URL
	if normalized, err := crawler.NormalizeURL(page.URL); err == nil {
		url = normalized
	}
	robotsAllowed := true
	if page.RobotsAllowed != nil {
		robotsAllowed = *page.RobotsAllowed
	}
	return crawler.PageRecord{
		URL:              url,
		Timestamp:        e.clock.Now().UTC().Format(crawler.TimestampLayout),
		Status:           page.StatusCode,
		ContentType:      page.Headers.Get("Content-Type"),
		ContentLength:    contentLength(page.Headers),
		Language:         crawler.LanguageUndetermined,
		ServerLicense:    crawler.LicenseUnknown,
		RobotsTxtAllowed: robotsAllowed,
	}
}

// inferLanguage walks the fixed preference order: declared attribute,
// Content-Language header, detector over the extracted text. The first
// source that yields a value wins; the result is never empty.
func (e *Extractor) inferLanguage(declared string, headers http.Header, text string) string {
	attempts := []func() (string, bool){
		func() (string, bool) {
			code := language.Normalize(declared)
			return code, code != ""
		},
		func() (string, bool) {
			code := language.Normalize(firstContentLanguage(headers))
			return code, code != ""
		},
		func() (string, bool) {
			code := language.Resolve(e.detector, text, e.cfg.DetectChars)
			return code, code != language.Undetermined
		},
	}
	for _, attempt := range attempts {
		if code, ok := attempt(); ok {
			return code
		}
	}
	return crawler.LanguageUndetermined
}

func firstContentLanguage(headers http.Header) string {
	value := headers.Get("Content-Language")
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}

func contentLength(headers http.Header) int64 {
	raw := strings.TrimSpace(headers.Get("Content-Length"))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
