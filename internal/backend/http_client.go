package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// maxBodySize bounds how much of a listing page is read.
const maxBodySize = 64 << 20

// HTTPClient handles HTTP requests with performance metrics
type HTTPClient struct {
	client        *http.Client
	userAgent     string
	username      string            // Basic auth username
	password      string            // Basic auth password
	customHeaders map[string]string // Custom headers
	maxBody       int64
}

// HTTPMetrics contains performance metrics for an HTTP request
type HTTPMetrics struct {
	TTFB         time.Duration // Time to First Byte
	DownloadTime time.Duration // Total download time
	DNSLookup    time.Duration // DNS lookup time
	TCPConnect   time.Duration // TCP connection time
	TLSHandshake time.Duration // TLS handshake time
}

// HTTPRequest describes one request. Zero values mean GET with the client's
// User-Agent.
type HTTPRequest struct {
	Method    string
	URL       string
	UserAgent string
	Header    http.Header
	Body      []byte

	// DiscardBody closes the response without reading it.
	DiscardBody bool
}

// HTTPResponse contains the response and metrics
type HTTPResponse struct {
	StatusCode    int
	Headers       http.Header
	Body          []byte
	ContentType   string
	ContentLength int64
	Server        string
	Metrics       HTTPMetrics
	FinalURL      string // After following redirects
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(userAgent string, timeout time.Duration) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &HTTPClient{
		client:        client,
		userAgent:     userAgent,
		customHeaders: make(map[string]string),
		maxBody:       maxBodySize,
	}
}

// UserAgent returns the default User-Agent.
func (h *HTTPClient) UserAgent() string {
	return h.userAgent
}

// SetBasicAuth configures basic authentication for HTTP requests
func (h *HTTPClient) SetBasicAuth(username, password string) {
	h.username = username
	h.password = password
}

// SetCustomHeaders sets custom HTTP headers
func (h *HTTPClient) SetCustomHeaders(headers map[string]string) {
	for k, v := range headers {
		h.customHeaders[k] = v
	}
}

// Get performs a GET request and reads the body.
func (h *HTTPClient) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	return h.Do(ctx, HTTPRequest{URL: url})
}

// Do performs a request with performance tracking. It measures DNS lookup,
// TCP connect, TLS handshake, time to first byte and total download time.
// Non-2xx statuses are not errors here; callers classify them.
func (h *HTTPClient) Do(ctx context.Context, r HTTPRequest) (*HTTPResponse, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	ua := r.UserAgent
	if ua == "" {
		ua = h.userAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	if h.username != "" && h.password != "" {
		req.SetBasicAuth(h.username, h.password)
	}
	for name, value := range h.customHeaders {
		req.Header.Set(name, value)
	}
	for name, values := range r.Header {
		req.Header[name] = values
	}

	var metrics HTTPMetrics
	var dnsStart, connectStart, tlsStart, firstByteTime time.Time

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			metrics.DNSLookup = time.Since(dnsStart)
		},
		ConnectStart: func(network, addr string) {
			connectStart = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			metrics.TCPConnect = time.Since(connectStart)
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			metrics.TLSHandshake = time.Since(tlsStart)
		},
		GotFirstResponseByte: func() {
			firstByteTime = time.Now()
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	startTime := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if !firstByteTime.IsZero() {
		metrics.TTFB = firstByteTime.Sub(startTime)
	}

	var data []byte
	if !r.DiscardBody && method != http.MethodHead {
		data, err = io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if int64(len(data)) > h.maxBody {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, r.URL, h.maxBody)
		}
	}
	metrics.DownloadTime = time.Since(startTime)

	return &HTTPResponse{
		StatusCode:    resp.StatusCode,
		Headers:       resp.Header,
		Body:          data,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Server:        resp.Header.Get("Server"),
		Metrics:       metrics,
		FinalURL:      resp.Request.URL.String(),
	}, nil
}

// Close closes the HTTP client
func (h *HTTPClient) Close() {
	h.client.CloseIdleConnections()
}
