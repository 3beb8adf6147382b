package fetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math"
	"math/big"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

// RetryPolicy retries transient HTTP failures with jittered exponential backoff.
type RetryPolicy struct {
	// MaxAttempts counts the first try; 1 or less disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts between 250ms and 5s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
// Only transient failures are retried: 429 and 5xx responses, network
// timeouts, refused or reset connections and truncated responses.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrRobotsDisallowed) {
		return false
	}
	return isTransient(err)
}

func isTransient(err error) bool {
	var statusErr *crawler.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Backoff returns the wait before the attempt following attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// fetchWithRetry runs f until it succeeds or the policy gives up.
func fetchWithRetry(ctx context.Context, policy RetryPolicy, f crawler.Fetcher, request crawler.FetchRequest, onRetry func(attempt int, wait time.Duration, err error)) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.Fetch(ctx, request)
		if !policy.ShouldRetry(err, attempt) {
			return resp, err
		}
		wait := policy.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.FetchResponse{}, err
		case <-timer.C:
		}
	}
}
