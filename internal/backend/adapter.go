// Package backend adapts concrete protocols (plain HTTP listings, FTP,
// paginated JSON APIs) to the crawler's fetch-a-directory contract.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/masahif/opendir/internal/config"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
)

// Adapter fetches and parses one directory.
//
// Fetch returns the node's listing. Errors wrapped with retry.Permanent are
// not retried; *FatalError aborts the run; ErrSkipped marks the node as
// deliberately skipped. Anything else is treated as transient.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, node tree.DirectoryNode, sess *session.Session) (*tree.Fragment, error)
	// DefaultWorkers is the directory pool size used when none is configured.
	DefaultWorkers() int
}

// Initializer is implemented by adapters that need one-time setup (a login,
// a connection check) before any fetch. A failing Init aborts the run.
type Initializer interface {
	Init(ctx context.Context, sess *session.Session) error
}

// SizeProber resolves the size of a single file.
type SizeProber interface {
	ProbeSize(ctx context.Context, fileURL string, sess *session.Session) (int64, error)
}

// New selects the adapter for the configured root URL.
func New(cfg *config.CrawlConfig) (Adapter, error) {
	u, err := url.Parse(cfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid root URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPAdapter(cfg), nil
	case "ftp", "ftps":
		return NewFTPAdapter(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// policyFor builds the per-request retry policy used inside adapters that
// issue many requests per fetch.
func policyFor(cfg *config.CrawlConfig) retry.Policy {
	p := retry.DefaultPolicy(cfg.MaxRetries)
	if cfg.RetryCap > 0 {
		p.Cap = cfg.RetryCap
	}
	return p
}

// childURL joins an escaped child name onto a directory URL.
func childURL(dir, name string, isDir bool) string {
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	u := dir + url.PathEscape(name)
	if isDir {
		u += "/"
	}
	return u
}
