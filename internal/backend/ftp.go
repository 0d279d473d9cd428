package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/jlaffaye/ftp"

	"github.com/masahif/opendir/internal/config"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
)

const defaultFTPWorkers = 6

// ftpConn is the subset of *ftp.ServerConn the adapter uses.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	FileSize(path string) (int64, error)
	Quit() error
}

type ftpDialer func(ctx context.Context) (ftpConn, error)

// FTPAdapter lists FTP directories over a pool of logged-in connections, one
// per worker. Symlinks are followed as directories; the crawler's loop
// detection stops cycles they create.
type FTPAdapter struct {
	root    *url.URL
	dial    ftpDialer
	workers int

	idle  chan ftpConn
	slots chan struct{}
}

// NewFTPAdapter builds the adapter from cfg. No connection is made until
// Init or the first fetch. Credentials embedded in the root URL are moved
// into the dialer and removed from cfg.SeedURL, so they never reach the
// session outputs.
func NewFTPAdapter(cfg *config.CrawlConfig) (*FTPAdapter, error) {
	root, err := url.Parse(cfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid root URL: %w", err)
	}

	user, pass := ftpCredentials(cfg, root)
	if root.User != nil {
		root.User = nil
		cfg.SeedURL = root.String()
	}
	port := root.Port()
	if port == "" {
		port = "21"
	}
	addr := net.JoinHostPort(root.Hostname(), port)
	explicitTLS := strings.EqualFold(root.Scheme, "ftps")

	dial := func(ctx context.Context) (ftpConn, error) {
		opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(cfg.FTPTimeout)}
		if explicitTLS {
			opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
				ServerName: root.Hostname(),
				MinVersion: tls.VersionTLS12,
			}))
		}

		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		if err := c.Login(user, pass); err != nil {
			_ = c.Quit()
			return nil, fmt.Errorf("login failed: %w", err)
		}
		return c, nil
	}

	return newFTPAdapter(root, dial, cfg.Workers), nil
}

func newFTPAdapter(root *url.URL, dial ftpDialer, workers int) *FTPAdapter {
	if workers <= 0 {
		workers = defaultFTPWorkers
	}
	return &FTPAdapter{
		root:    root,
		dial:    dial,
		workers: workers,
		idle:    make(chan ftpConn, workers),
		slots:   make(chan struct{}, workers),
	}
}

func ftpCredentials(cfg *config.CrawlConfig, root *url.URL) (string, string) {
	if user, pass := cfg.FTP.Resolve(); user != "" {
		return user, pass
	}
	if root.User != nil && root.User.Username() != "" {
		pass, _ := root.User.Password()
		return root.User.Username(), pass
	}
	return "anonymous", "anonymous@"
}

// Name implements Adapter.
func (a *FTPAdapter) Name() string { return NameFTP }

// DefaultWorkers implements Adapter.
func (a *FTPAdapter) DefaultWorkers() int { return a.workers }

// Init logs in once so that bad credentials or an unreachable server stop
// the run before any worker starts.
func (a *FTPAdapter) Init(ctx context.Context, sess *session.Session) error {
	c, err := a.acquire(ctx)
	if err != nil {
		return &FatalError{Backend: NameFTP, Err: err}
	}
	a.release(c, true)

	sess.Params.Set(session.ParamBackend, NameFTP)
	slog.Info("Connected to FTP server", "host", a.root.Host)
	return nil
}

// Fetch implements Adapter.
func (a *FTPAdapter) Fetch(ctx context.Context, node tree.DirectoryNode, sess *session.Session) (*tree.Fragment, error) {
	p, err := ftpPath(node.URL)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	c, err := a.acquire(ctx)
	if err != nil {
		return nil, classifyFTP(err)
	}
	entries, err := c.List(p)
	sess.RecordRequest(0)
	a.release(c, err == nil || ftpCode(err) != 0)
	if err != nil {
		return nil, classifyFTP(err)
	}

	frag := tree.NewFragment(node.URL)
	for _, e := range entries {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			continue
		}
		switch e.Type {
		case ftp.EntryTypeFolder, ftp.EntryTypeLink:
			frag.AddDir(childURL(node.URL, e.Name, true), e.Name)
		default:
			frag.AddFile(childURL(node.URL, e.Name, false), e.Name, tree.KnownSize(int64(e.Size)))
		}
	}
	return frag, nil
}

// ProbeSize implements SizeProber with the SIZE command.
func (a *FTPAdapter) ProbeSize(ctx context.Context, fileURL string, sess *session.Session) (int64, error) {
	p, err := ftpPath(fileURL)
	if err != nil {
		return 0, retry.Permanent(err)
	}

	c, err := a.acquire(ctx)
	if err != nil {
		return 0, classifyFTP(err)
	}
	n, err := c.FileSize(p)
	sess.RecordRequest(0)
	a.release(c, err == nil || ftpCode(err) != 0)
	if err != nil {
		return 0, classifyFTP(err)
	}
	return n, nil
}

// Close quits every pooled connection.
func (a *FTPAdapter) Close() error {
	for {
		select {
		case c := <-a.idle:
			_ = c.Quit()
		default:
			return nil
		}
	}
}

func (a *FTPAdapter) acquire(ctx context.Context) (ftpConn, error) {
	select {
	case a.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case c := <-a.idle:
		return c, nil
	default:
	}

	c, err := a.dial(ctx)
	if err != nil {
		<-a.slots
		return nil, err
	}
	return c, nil
}

// release returns c to the pool; broken connections are closed instead.
func (a *FTPAdapter) release(c ftpConn, healthy bool) {
	if healthy {
		select {
		case a.idle <- c:
		default:
			_ = c.Quit()
		}
	} else {
		_ = c.Quit()
	}
	<-a.slots
}

func ftpPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid FTP URL: %w", err)
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

func ftpCode(err error) int {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		return tp.Code
	}
	return 0
}

// classifyFTP maps server replies onto the crawler's error taxonomy.
func classifyFTP(err error) error {
	switch code := ftpCode(err); {
	case code == ftp.StatusNotLoggedIn:
		return &FatalError{Backend: NameFTP, Err: err}
	case code >= 500:
		return retry.Permanent(err)
	default:
		return err
	}
}
