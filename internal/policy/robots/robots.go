// Package robots enforces robots.txt per host for the crawl's user agents.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecorpus/internal/metrics"
)

const maxRobotsBytes = 1 << 20

var retryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Config controls robots.txt enforcement.
type Config struct {
	Timeout time.Duration
}

// Enforcer caches one parsed robots.txt per scheme and host.
type Enforcer struct {
	client  *http.Client
	logger  *zap.Logger
	backoff []time.Duration
	hosts   sync.Map // host key -> *hostRules
}

type hostRules struct {
	once sync.Once
	data *robotstxt.RobotsData
}

// New builds an Enforcer. A nil transport uses http.DefaultTransport.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Enforcer {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:  logger,
		backoff: retryBackoff,
	}
}

// Allowed reports whether userAgent may fetch rawURL. Hosts whose robots.txt
// cannot be read are treated as allow-all.
func (e *Enforcer) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	key := strings.ToLower(u.Scheme + "://" + u.Host)
	entry, _ := e.hosts.LoadOrStore(key, &hostRules{})
	rules, ok := entry.(*hostRules)
	if !ok {
		return true
	}
	rules.once.Do(func() {
		rules.data = e.load(ctx, key, userAgent)
	})
	if rules.data == nil {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return rules.data.TestAgent(p, userAgent)
}

func (e *Enforcer) load(ctx context.Context, origin, userAgent string) *robotstxt.RobotsData {
	body, status, err := e.fetch(ctx, origin+"/robots.txt", userAgent)
	if err != nil {
		e.logger.Warn("robots.txt unavailable; allowing all", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		e.logger.Warn("robots.txt unparsable; allowing all", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data
}

// fetch retries transient TLS handshake timeouts before giving up.
func (e *Enforcer) fetch(ctx context.Context, robotsURL, userAgent string) ([]byte, int, error) {
	for attempt := 0; ; attempt++ {
		body, status, err := e.fetchOnce(ctx, robotsURL, userAgent)
		if err == nil {
			return body, status, nil
		}
		if !isTransientTLSError(err) {
			return nil, 0, err
		}
		if attempt >= len(e.backoff) {
			metrics.ObserveProbeTLSHandshakeTimeout()
			return nil, 0, fmt.Errorf("tls handshake timeout after %d attempts: %w", attempt+1, err)
		}
		if err := sleepWithContext(ctx, e.backoff[attempt]); err != nil {
			return nil, 0, err
		}
	}
}

func (e *Enforcer) fetchOnce(ctx context.Context, robotsURL, userAgent string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read robots body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
