package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/masahif/opendir/internal/config"
	"github.com/masahif/opendir/internal/parser"
	"github.com/masahif/opendir/internal/ratelimit"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
)

// Backend names stored under session.ParamBackend.
const (
	NameHTTP       = "http"
	NameCatalog    = "catalog"
	NameDriveIndex = "driveindex"
	NameFTP        = "ftp"
)

// fallbackAgents are tried in order when a server rejects the configured
// User-Agent on the first request.
var fallbackAgents = []string{
	"curl/8.5.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// defaultRetryAfter is the pause applied on 429 without a Retry-After header.
const defaultRetryAfter = 5 * time.Second

// paramProbed claims the one-time User-Agent probe.
const paramProbed = "_http.ua_probed"

// HTTPAdapter crawls web server directory listings. On the root page it
// detects catalog servers and drive-index sites and hands the run over to
// the matching API client.
type HTTPAdapter struct {
	client     *HTTPClient
	chain      *parser.Chain
	limiters   *ratelimit.Registry
	robots     *RobotsParser
	catalog    *CatalogClient
	drive      *DriveIndexAdapter
	exactSizes bool

	delayed sync.Map // hosts whose robots.txt crawl delay was applied
}

// NewHTTPAdapter builds the adapter from cfg.
func NewHTTPAdapter(cfg *config.CrawlConfig) *HTTPAdapter {
	client := NewHTTPClient(cfg.UserAgent, cfg.RequestTimeout)
	if user, pass := cfg.HTTPAuth.Resolve(); user != "" {
		client.SetBasicAuth(user, pass)
	}
	if headers := cfg.HeaderMap(); len(headers) > 0 {
		client.SetCustomHeaders(headers)
		slog.Info("Set custom headers", "count", len(headers))
	}

	httpRate := cfg.HTTPRate
	limiters := ratelimit.NewRegistry(func() *ratelimit.Limiter {
		return ratelimit.PerSecond(httpRate, ratelimit.DefaultMargin)
	})
	limiters.Set(NameCatalog, ratelimit.PerSecond(cfg.CatalogRate, ratelimit.DefaultMargin))
	limiters.Set(NameDriveIndex, ratelimit.New(900, 100*time.Second, ratelimit.DefaultMargin))

	a := &HTTPAdapter{
		client:     client,
		chain:      parser.DefaultChain(),
		limiters:   limiters,
		exactSizes: cfg.ExactSizes,
	}
	if cfg.RespectRobots {
		a.robots = NewRobotsParser(client, cfg.UserAgent)
	}
	a.catalog = NewCatalogClient(client, limiters.For(NameCatalog), policyFor(cfg))
	a.drive = newDriveIndexAdapter(client, limiters.For(NameDriveIndex), policyFor(cfg), cfg.DrivePassword)
	return a
}

// Name implements Adapter.
func (a *HTTPAdapter) Name() string { return NameHTTP }

// DefaultWorkers implements Adapter.
func (a *HTTPAdapter) DefaultWorkers() int { return 50 }

// Close releases idle connections.
func (a *HTTPAdapter) Close() error {
	a.client.Close()
	return nil
}

// Fetch implements Adapter.
func (a *HTTPAdapter) Fetch(ctx context.Context, node tree.DirectoryNode, sess *session.Session) (*tree.Fragment, error) {
	if b, _ := sess.Params.Get(session.ParamBackend); b == NameDriveIndex {
		return a.drive.Fetch(ctx, node, sess)
	}

	if err := a.checkRobots(ctx, node.URL); err != nil {
		return nil, err
	}

	resp, err := a.get(ctx, node.URL, sess)
	if err != nil {
		return nil, err
	}

	if node.Parent == tree.NoParent {
		if isCatalog(resp) {
			sess.Params.Set(session.ParamBackend, NameCatalog)
			slog.Info("Detected catalog server", "url", node.URL, "server", resp.Server)
			return a.catalog.FetchAll(ctx, node.URL, sess)
		}
		if isDriveIndex(resp) {
			sess.Params.Set(session.ParamBackend, NameDriveIndex)
			sess.Params.Set(session.ParamDriveRoot, node.URL)
			slog.Info("Detected drive index", "url", node.URL)
			return a.drive.Fetch(ctx, node, sess)
		}
		sess.Params.SetIfAbsent(session.ParamBackend, NameHTTP)
	}

	page, err := parser.NewPage(resp.FinalURL, resp.Body, resp.Headers)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	frag := a.chain.Parse(page)
	if !frag.ParsedOK {
		return nil, retry.Permanent(fmt.Errorf("failed to parse %s: %w", node.URL, frag.Err))
	}
	return frag, nil
}

// get performs a rate-limited GET and classifies the status. The first
// request of a session may retry with fallback User-Agents.
func (a *HTTPAdapter) get(ctx context.Context, rawURL string, sess *session.Session) (*HTTPResponse, error) {
	ua := a.userAgent(sess)
	resp, err := a.do(ctx, HTTPRequest{URL: rawURL, UserAgent: ua}, sess)

	if sess.Params.SetIfAbsent(paramProbed, "1") && !usable(resp, err) {
		for _, fallback := range fallbackAgents {
			alt, altErr := a.do(ctx, HTTPRequest{URL: rawURL, UserAgent: fallback}, sess)
			if usable(alt, altErr) {
				slog.Info("Server accepted fallback User-Agent", "user_agent", fallback)
				sess.Params.Set(session.ParamUserAgent, fallback)
				return alt, nil
			}
		}
	}

	if err != nil {
		return nil, err
	}
	if err := a.checkStatus(resp, rawURL); err != nil {
		return nil, err
	}
	return resp, nil
}

// checkRobots returns ErrSkipped for disallowed directories. The first time a
// host's rules carry a Crawl-delay slower than the configured rate, the host
// limiter is replaced to honour it.
func (a *HTTPAdapter) checkRobots(ctx context.Context, rawURL string) error {
	if a.robots == nil {
		return nil
	}

	allowed, err := a.robots.IsAllowed(ctx, rawURL)
	if err == nil && !allowed {
		return fmt.Errorf("%w: disallowed by robots.txt", ErrSkipped)
	}

	host := hostOf(rawURL)
	if _, seen := a.delayed.LoadOrStore(host, struct{}{}); seen {
		return nil
	}
	if delay := a.robots.CrawlDelay(host); delay > a.limiters.For(host).Interval() {
		a.limiters.Set(host, ratelimit.New(1, delay, 1))
		slog.Info("Applying robots.txt crawl delay", "host", host, "delay", delay)
	}
	return nil
}

// limiterFor picks the limiter of a request. Once a catalog server has been
// detected every request to it, size checks included, shares the catalog
// budget.
func (a *HTTPAdapter) limiterFor(rawURL string, sess *session.Session) *ratelimit.Limiter {
	if b, _ := sess.Params.Get(session.ParamBackend); b == NameCatalog {
		return a.limiters.For(NameCatalog)
	}
	return a.limiters.For(hostOf(rawURL))
}

func (a *HTTPAdapter) do(ctx context.Context, r HTTPRequest, sess *session.Session) (*HTTPResponse, error) {
	limiter := a.limiterFor(r.URL, sess)
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, r)
	if err != nil {
		sess.RecordRequest(0)
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	sess.RecordRequest(resp.StatusCode)
	sess.RecordTraffic(int64(len(resp.Body)))
	slog.Debug("HTTP request",
		"method", r.Method,
		"url", r.URL,
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"ttfb_ms", resp.Metrics.TTFB.Milliseconds(),
		"download_ms", resp.Metrics.DownloadTime.Milliseconds())

	if resp.StatusCode == http.StatusTooManyRequests {
		limiter.AddDelay(retryAfter(resp.Headers))
	}
	return resp, nil
}

func (a *HTTPAdapter) checkStatus(resp *HTTPResponse, rawURL string) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return &StatusError{URL: rawURL, Code: code}
	default:
		return retry.Permanent(&StatusError{URL: rawURL, Code: code})
	}
}

func (a *HTTPAdapter) userAgent(sess *session.Session) string {
	if ua, ok := sess.Params.Get(session.ParamUserAgent); ok {
		return ua
	}
	return a.client.UserAgent()
}

// ProbeSize implements SizeProber. Without exact mode it trusts the
// Content-Length of a HEAD; in exact mode it asks for the first byte and
// reads the total from Content-Range.
func (a *HTTPAdapter) ProbeSize(ctx context.Context, fileURL string, sess *session.Session) (int64, error) {
	r := HTTPRequest{URL: fileURL, UserAgent: a.userAgent(sess), DiscardBody: true}
	if a.exactSizes {
		r.Header = http.Header{"Range": []string{"bytes=0-0"}}
	} else {
		r.Method = http.MethodHead
	}

	resp, err := a.do(ctx, r, sess)
	if err != nil {
		return 0, err
	}
	if err := a.checkStatus(resp, fileURL); err != nil {
		return 0, err
	}

	if resp.StatusCode == http.StatusPartialContent {
		if n, ok := parseContentRange(resp.Headers.Get("Content-Range")); ok {
			return n, nil
		}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	if n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64); err == nil && n >= 0 {
		return n, nil
	}
	return 0, retry.Permanent(ErrNoSize)
}

// parseContentRange reads the complete length from "bytes 0-0/1234".
func parseContentRange(v string) (int64, bool) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

// usable reports whether a response looks like a real page.
func usable(resp *HTTPResponse, err error) bool {
	if err != nil || resp == nil {
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300 && len(bytes.TrimSpace(resp.Body)) > 0
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
