// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// PageType discriminates which extraction path produced a record.
type PageType string

// Page types written to the record's "type" field.
const (
	PageTypeHTML PageType = "html"
	PageTypePDF  PageType = "pdf"
	PageTypeTXT  PageType = "txt"
)

// Sentinel values used when a true value cannot be determined.
const (
	LanguageUndetermined   = "und"
	LicenseUnknown         = "unknown"
	LicenseCreativeCommons = "creative_commons"
)

// TimestampLayout is the capture time format: UTC, second precision.
const TimestampLayout = "2006-01-02T15:04:05Z"

// PageRecord is persisted once per successfully processed URL.
type PageRecord struct {
	URL              string   `json:"url"`
	Timestamp        string   `json:"timestamp"`
	Status           int      `json:"status"`
	ContentType      string   `json:"content_type"`
	ContentLength    int64    `json:"content_length"`
	Language         string   `json:"language"`
	ServerLicense    string   `json:"server_license"`
	MetaRobots       *string  `json:"meta_robots,omitempty"`
	RobotsTxtAllowed bool     `json:"robots_txt_allowed"`
	Type             PageType `json:"type"`
	RawHTML          string   `json:"raw_html,omitempty"`
	Text             string   `json:"text"`
}

// Extraction is the Extractor's output for one fetched page.
type Extraction struct {
	Record PageRecord
	// Links holds resolved, fragment-stripped http(s) links; populated for HTML only.
	Links []string
	// Method names the path that produced the text: html, txt, pdf-text or pdf-ocr.
	Method string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the outcome returned by the fetch collaborator.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	// RobotsAllowed is nil when the fetcher has no robots.txt verdict.
	RobotsAllowed *bool
}

// Summary is the crawl summary written once at shutdown.
type Summary struct {
	PagesTotal int      `json:"pages_total"`
	CrawlSecs  float64  `json:"crawl_secs"`
	BytesTotal int64    `json:"bytes_total"`
	CharsTotal int64    `json:"chars_total"`
	WordsTotal int64    `json:"words_total"`
	AvgWordsPg float64  `json:"avg_words_pg"`
	Langs      []string `json:"langs"`
	Reason     string   `json:"reason"`
}

// Termination reasons attached to the summary.
const (
	ReasonFinished = "finished"
	ReasonShutdown = "shutdown"
	ReasonMaxPages = "max_pages"
	ReasonError    = "error"
)

// PageState is the lifecycle position of a URL within one crawl session.
type PageState string

// Page states.
const (
	PageStatePending   PageState = "pending"
	PageStateFetching  PageState = "fetching"
	PageStateExtracted PageState = "extracted"
	PageStateSkipped   PageState = "skipped"
	PageStateFailed    PageState = "failed"
)

// StateCounts tallies terminal page states for one crawl.
type StateCounts struct {
	Extracted int `json:"extracted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
