// Package session aggregates run-wide state for one crawl: the tree, the
// processed-URL set, request counters, the HTTP status histogram and the
// parameter bag shared with backend adapters.
package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/masahif/opendir/internal/tree"
)

// Session is the process-wide aggregate of one crawl run.
type Session struct {
	ID       string
	RootURL  string
	Tree     *tree.Tree
	Params   *Params
	Started  time.Time
	Finished time.Time

	processed      sync.Map
	processedCount atomic.Int64

	requests atomic.Int64
	traffic  atomic.Int64
	errors   atomic.Int64
	skipped  atomic.Int64

	statusMu    sync.Mutex
	statusCodes map[int]int

	errorsMu  sync.Mutex
	errorURLs []string
}

// New starts a session rooted at rootURL.
func New(rootURL string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		RootURL:     rootURL,
		Tree:        tree.New(rootURL),
		Params:      NewParams(),
		Started:     time.Now().UTC(),
		statusCodes: make(map[int]int),
	}
}

// MarkProcessed adds url to the processed set. It returns false if the URL
// was already there, in which case the caller must not fetch it again.
func (s *Session) MarkProcessed(url string) bool {
	if _, loaded := s.processed.LoadOrStore(url, struct{}{}); loaded {
		return false
	}
	s.processedCount.Add(1)
	return true
}

// IsProcessed reports whether url has been started.
func (s *Session) IsProcessed(url string) bool {
	_, ok := s.processed.Load(url)
	return ok
}

// ProcessedCount is the size of the processed set.
func (s *Session) ProcessedCount() int64 {
	return s.processedCount.Load()
}

// RecordRequest counts one outgoing request. A zero status records a
// request without an HTTP status: a transport failure or an FTP command.
func (s *Session) RecordRequest(status int) {
	s.requests.Add(1)
	if status == 0 {
		return
	}

	s.statusMu.Lock()
	s.statusCodes[status]++
	s.statusMu.Unlock()
}

// RecordTraffic adds n bytes of received payload.
func (s *Session) RecordTraffic(n int64) {
	if n > 0 {
		s.traffic.Add(n)
	}
}

// RecordError counts a failed directory and remembers its URL.
func (s *Session) RecordError(url string) {
	s.errors.Add(1)

	s.errorsMu.Lock()
	s.errorURLs = append(s.errorURLs, url)
	s.errorsMu.Unlock()
}

// RecordSkipped counts a directory that was deliberately not fetched.
func (s *Session) RecordSkipped() {
	s.skipped.Add(1)
}

// Finish stamps the end of the run.
func (s *Session) Finish() {
	s.Finished = time.Now().UTC()
}

// Requests returns the number of requests issued.
func (s *Session) Requests() int64 { return s.requests.Load() }

// Traffic returns the number of payload bytes received.
func (s *Session) Traffic() int64 { return s.traffic.Load() }

// Errors returns the number of failed directories.
func (s *Session) Errors() int64 { return s.errors.Load() }

// Skipped returns the number of skipped directories.
func (s *Session) Skipped() int64 { return s.skipped.Load() }

// StatusCodes returns a copy of the HTTP status histogram.
func (s *Session) StatusCodes() map[int]int {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	out := make(map[int]int, len(s.statusCodes))
	for code, n := range s.statusCodes {
		out[code] = n
	}
	return out
}

// ErrorURLs returns the sorted list of directories that failed.
func (s *Session) ErrorURLs() []string {
	s.errorsMu.Lock()
	defer s.errorsMu.Unlock()

	out := append([]string(nil), s.errorURLs...)
	sort.Strings(out)
	return out
}
