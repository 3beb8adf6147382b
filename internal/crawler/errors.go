package crawler

import (
	"errors"
	"fmt"
)

// ErrUnsupportedContentType marks a page that is skipped by policy. It is not a failure.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// ErrInvalidInvocation marks configuration or startup errors that stop the process before any work.
var ErrInvalidInvocation = errors.New("invalid invocation")

// ExtractionError reports a malformed document or decode failure for a single page.
type ExtractionError struct {
	URL   string
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.URL, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed fetch attributed to the fetch collaborator.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrRobotsDisallowed marks a URL that robots.txt forbids for the crawl's user agent.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// StatusError reports a non-success HTTP status returned by the origin.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
