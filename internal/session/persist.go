package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/masahif/opendir/internal/tree"
)

const documentVersion = 1

// document is the persisted form of a session: one nested JSON record.
type document struct {
	Version         int               `json:"version"`
	ID              string            `json:"id"`
	RootURL         string            `json:"root_url"`
	Started         time.Time         `json:"started"`
	Finished        time.Time         `json:"finished"`
	Parameters      map[string]string `json:"parameters"`
	HTTPStatusCodes map[int]int       `json:"http_status_codes"`
	TotalRequests   int64             `json:"total_requests"`
	TotalTraffic    int64             `json:"total_traffic_bytes"`
	Errors          int64             `json:"errors"`
	Skipped         int64             `json:"skipped"`
	ErrorURLs       []string          `json:"urls_with_errors"`
	Root            *tree.Tree        `json:"root"`
}

// Encode writes the session as indented JSON.
func (s *Session) Encode(w io.Writer) error {
	doc := document{
		Version:         documentVersion,
		ID:              s.ID,
		RootURL:         s.RootURL,
		Started:         s.Started,
		Finished:        s.Finished,
		Parameters:      s.Params.Snapshot(),
		HTTPStatusCodes: s.StatusCodes(),
		TotalRequests:   s.Requests(),
		TotalTraffic:    s.Traffic(),
		Errors:          s.Errors(),
		Skipped:         s.Skipped(),
		ErrorURLs:       s.ErrorURLs(),
		Root:            s.Tree,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Decode reads a session written by Encode. The processed-URL set is rebuilt
// from finished and errored directories so that reporting works; resuming an
// interrupted crawl is not supported.
func Decode(r io.Reader) (*Session, error) {
	doc := document{Root: &tree.Tree{}}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported session version %d", doc.Version)
	}

	s := &Session{
		ID:          doc.ID,
		RootURL:     doc.RootURL,
		Tree:        doc.Root,
		Params:      NewParams(),
		Started:     doc.Started,
		Finished:    doc.Finished,
		statusCodes: make(map[int]int, len(doc.HTTPStatusCodes)),
		errorURLs:   doc.ErrorURLs,
	}
	for k, v := range doc.Parameters {
		s.Params.Set(k, v)
	}
	for code, n := range doc.HTTPStatusCodes {
		s.statusCodes[code] = n
	}
	s.requests.Store(doc.TotalRequests)
	s.traffic.Store(doc.TotalTraffic)
	s.errors.Store(doc.Errors)
	s.skipped.Store(doc.Skipped)

	s.Tree.Walk(func(n tree.DirectoryNode, _ int) bool {
		if n.Finished || n.Error {
			s.MarkProcessed(n.URL)
		}
		return true
	})

	return s, nil
}

// Save writes the session document to path atomically.
func (s *Session) Save(path string) error {
	return writeFileAtomic(path, s.Encode)
}

// Load reads a session document from path.
func Load(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

// WriteURLList writes every file URL, sorted and deduplicated, one per line.
func (s *Session) WriteURLList(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, u := range s.Tree.FileURLs() {
		if _, err := bw.WriteString(u + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveURLList writes the URL list to path atomically.
func (s *Session) SaveURLList(path string) error {
	return writeFileAtomic(path, s.WriteURLList)
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
