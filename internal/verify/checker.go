// Package verify checks URL reachability with bounded concurrency, per-URL
// verdict caching, and retry on transient network failures.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
	"github.com/linkmend/linkmend/internal/metrics"
)

// Config controls Checker behavior.
type Config struct {
	Concurrency    int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxRedirects   int
	MaxRetries     int
	UserAgent      string
	PerHostRPS     float64
	PerHostBurst   int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 12
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = "linkmend/1.0 (+https://github.com/linkmend/linkmend)"
	}
	return c
}

var errTooManyRedirects = errors.New("too many redirects")

// cacheEntry holds one URL's verdict; done is closed once it is populated so
// duplicate occurrences wait instead of issuing a second request.
type cacheEntry struct {
	done    chan struct{}
	verdict check.Verdict
}

// Checker computes one network verdict per distinct URL. Create one Checker
// per session: the verdict cache lives exactly as long as the Checker.
type Checker struct {
	cfg     Config
	client  *http.Client
	retry   *retryPolicy
	limiter *hostLimiter
	slots   chan struct{}
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// New builds a Checker with its own HTTP client.
func New(cfg Config, logger *zap.Logger) *Checker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: cfg.Concurrency,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
	return &Checker{
		cfg:     cfg,
		client:  client,
		retry:   newRetryPolicy(cfg.MaxRetries),
		limiter: newHostLimiter(cfg.PerHostRPS, cfg.PerHostBurst),
		slots:   make(chan struct{}, cfg.Concurrency),
		logger:  logger,
	}
}

// Verify returns the verdict for url, computing it at most once per Checker.
// Callers block while a duplicate request for the same URL is in flight, and
// while the worker pool is saturated. A cancelled context yields a failed,
// uncached verdict.
func (c *Checker) Verify(ctx context.Context, url string) check.Verdict {
	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]*cacheEntry)
	}
	if entry, ok := c.cache[url]; ok {
		c.mu.Unlock()
		select {
		case <-entry.done:
			return entry.verdict
		case <-ctx.Done():
			return cancelledVerdict(url)
		}
	}
	entry := &cacheEntry{done: make(chan struct{})}
	c.cache[url] = entry
	c.mu.Unlock()

	verdict := c.verifyUncached(ctx, url)
	if ctx.Err() != nil {
		// Do not poison the cache with a cancellation verdict.
		c.mu.Lock()
		delete(c.cache, url)
		c.mu.Unlock()
		verdict = cancelledVerdict(url)
	}
	entry.verdict = verdict
	close(entry.done)
	return verdict
}

func (c *Checker) verifyUncached(ctx context.Context, url string) check.Verdict {
	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return cancelledVerdict(url)
	}
	if err := c.limiter.wait(ctx, url); err != nil {
		if ctx.Err() != nil {
			return cancelledVerdict(url)
		}
		// Wait refuses up front when the deadline cannot cover the wait, or
		// when the URL host is unparseable; that is a failure, not a cancel.
		return check.Verdict{URL: url, OK: false, Message: err.Error()}
	}

	start := time.Now()
	verdict := c.fetchWithRetries(ctx, url)
	metrics.ObserveVerification(verdict.StatusCode, verdict.OK, time.Since(start))
	c.logger.Debug("verified url",
		zap.String("url", url),
		zap.Int("status", verdict.StatusCode),
		zap.Bool("ok", verdict.OK),
	)
	return verdict
}

func (c *Checker) fetchWithRetries(ctx context.Context, url string) check.Verdict {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.fetch(ctx, url)
		if err == nil {
			return classify(url, resp)
		}
		if errors.Is(err, errTooManyRedirects) {
			return check.Verdict{
				URL:      url,
				OK:       false,
				Message:  fmt.Sprintf("stopped after %d redirects", c.cfg.MaxRedirects),
				FinalURL: resp.finalURL,
			}
		}
		lastErr = err
		if !c.retry.shouldRetry(err, attempt) {
			break
		}
		if sleepErr := sleep(ctx, c.retry.backoff(attempt)); sleepErr != nil {
			break
		}
	}
	return check.Verdict{
		URL:     url,
		OK:      false,
		Message: fmt.Sprintf("request error: %v", lastErr),
	}
}

// response carries what classification needs after the body is drained.
type response struct {
	statusCode int
	finalURL   string
}

// fetch issues a HEAD request and falls back to GET when the server rejects
// the method.
func (c *Checker) fetch(ctx context.Context, url string) (response, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		// A redirect-limit error arrives with the last hop populated; keep it.
		return resp, err
	}
	switch resp.statusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden:
		return c.do(ctx, http.MethodGet, url)
	}
	return resp, nil
}

func (c *Checker) do(ctx context.Context, method, url string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		// On a redirect-limit stop the client hands back the last hop with
		// its body already closed; keep where the chain was heading.
		if resp != nil && errors.Is(err, errTooManyRedirects) {
			final := ""
			if resp.Request != nil {
				final = resp.Request.URL.String()
			}
			return response{statusCode: resp.StatusCode, finalURL: final}, err
		}
		return response{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	final := ""
	if resp.Request != nil && resp.Request.URL.String() != url {
		final = resp.Request.URL.String()
	}
	return response{statusCode: resp.StatusCode, finalURL: final}, nil
}

func classify(url string, resp response) check.Verdict {
	v := check.Verdict{
		URL:        url,
		StatusCode: resp.statusCode,
		FinalURL:   resp.finalURL,
	}
	if resp.statusCode >= 200 && resp.statusCode < 400 {
		v.OK = true
		return v
	}
	v.Message = fmt.Sprintf("HTTP status code: %d %s", resp.statusCode, http.StatusText(resp.statusCode))
	return v
}

func cancelledVerdict(url string) check.Verdict {
	return check.Verdict{URL: url, OK: false, Message: check.CancelledError}
}
