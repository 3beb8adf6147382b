// Package fetcher composes the HTTP and headless fetchers behind the crawl's
// politeness policy: robots.txt, per-host rate limits and user-agent rotation.
package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

// Headless modes.
const (
	HeadlessOff    = "off"
	HeadlessAuto   = "auto"
	HeadlessAlways = "always"
)

// Document URLs are always fetched directly, never rendered.
var documentSuffixes = []string{".pdf", ".xls", ".xlsx", ".csv", ".txt"}

// RobotsChecker reports whether a user agent may fetch a URL.
type RobotsChecker interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Detector decides whether an HTTP response should be re-rendered headless.
type Detector interface {
	ShouldPromote(resp crawler.FetchResponse) bool
}

// Config controls routing.
type Config struct {
	UserAgents   []string
	HeadlessMode string
}

// Router implements crawler.Fetcher.
type Router struct {
	cfg      Config
	http     crawler.Fetcher
	headless crawler.Fetcher
	robots   RobotsChecker
	limiter  Waiter
	detector Detector
	retry    RetryPolicy
	logger   *zap.Logger
	pick     func(n int) int
}

// Option customizes a Router.
type Option func(*Router)

// WithHeadless enables rendering through f.
func WithHeadless(f crawler.Fetcher) Option {
	return func(r *Router) { r.headless = f }
}

// WithRobots enforces robots.txt through checker.
func WithRobots(checker RobotsChecker) Option {
	return func(r *Router) { r.robots = checker }
}

// WithLimiter spaces requests through w.
func WithLimiter(w Waiter) Option {
	return func(r *Router) { r.limiter = w }
}

// WithDetector sets the promotion detector used in auto mode.
func WithDetector(d Detector) Option {
	return func(r *Router) { r.detector = d }
}

// WithRetry retries transient HTTP failures under policy.
func WithRetry(policy RetryPolicy) Option {
	return func(r *Router) { r.retry = policy }
}

// NewRouter builds a Router over the plain HTTP fetcher.
func NewRouter(cfg Config, httpFetcher crawler.Fetcher, logger *zap.Logger, opts ...Option) (*Router, error) {
	if httpFetcher == nil {
		return nil, fmt.Errorf("%w: http fetcher is required", crawler.ErrInvalidInvocation)
	}
	switch cfg.HeadlessMode {
	case "":
		cfg.HeadlessMode = HeadlessOff
	case HeadlessOff, HeadlessAuto, HeadlessAlways:
	default:
		return nil, fmt.Errorf("%w: unknown headless mode %q", crawler.ErrInvalidInvocation, cfg.HeadlessMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		cfg:    cfg,
		http:   httpFetcher,
		logger: logger,
		pick:   rand.IntN,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.headless == nil {
		r.cfg.HeadlessMode = HeadlessOff
	}
	return r, nil
}

// Fetch applies robots.txt and rate limits, then fetches request.URL.
func (r *Router) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	headers := request.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	ua := r.userAgent()
	if ua != "" {
		headers.Set("User-Agent", ua)
	}
	request.Headers = headers

	var verdict *bool
	if r.robots != nil {
		if !r.robots.Allowed(ctx, request.URL, ua) {
			return crawler.FetchResponse{}, &crawler.FetchError{
				URL: request.URL,
				Err: fmt.Errorf("%w for %q", crawler.ErrRobotsDisallowed, ua),
			}
		}
		allowed := true
		verdict = &allowed
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: err}
		}
	}

	resp, err := r.route(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	resp.RobotsAllowed = verdict
	return resp, nil
}

func (r *Router) route(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if r.cfg.HeadlessMode == HeadlessOff || IsDocumentURL(request.URL) {
		return r.fetchHTTP(ctx, request)
	}

	if r.cfg.HeadlessMode == HeadlessAlways {
		resp, err := r.headless.Fetch(ctx, request)
		if err == nil && isHTML(resp.Headers.Get("Content-Type")) {
			return resp, nil
		}
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: ctx.Err()}
		}
		if err != nil {
			r.logger.Warn("headless fetch failed, falling back to http",
				zap.String("url", request.URL), zap.Error(err))
		}
		return r.fetchHTTP(ctx, request)
	}

	resp, err := r.fetchHTTP(ctx, request)
	if err != nil || r.detector == nil || !r.detector.ShouldPromote(resp) {
		return resp, err
	}
	rendered, err := r.headless.Fetch(ctx, request)
	if err != nil || !isHTML(rendered.Headers.Get("Content-Type")) {
		r.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	r.logger.Debug("headless promotion applied", zap.String("url", request.URL))
	return rendered, nil
}

func (r *Router) fetchHTTP(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return fetchWithRetry(ctx, r.retry, r.http, request, func(attempt int, wait time.Duration, err error) {
		r.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

func (r *Router) userAgent() string {
	switch n := len(r.cfg.UserAgents); n {
	case 0:
		return ""
	case 1:
		return r.cfg.UserAgents[0]
	default:
		return r.cfg.UserAgents[r.pick(n)]
	}
}

// IsDocumentURL reports whether rawURL names a downloadable document by its
// path suffix.
func IsDocumentURL(rawURL string) bool {
	return crawler.HasPathSuffix(rawURL, documentSuffixes...)
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.EqualFold(mediaType, "text/html")
}
