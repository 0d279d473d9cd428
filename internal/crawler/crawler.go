// Package crawler schedules a crawl: a directory worker pool walks the tree
// through a backend adapter, and a second pool resolves file sizes the
// listings left unknown.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/masahif/opendir/internal/backend"
	"github.com/masahif/opendir/internal/config"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
)

const (
	defaultSizeWorkers = 20
	sizeAttempts       = 2
	tailReportInterval = 5 * time.Second
)

// Crawler drives one crawl session.
type Crawler struct {
	config  *config.CrawlConfig
	adapter backend.Adapter
	prober  backend.SizeProber
	sess    *session.Session
	scope   *Scope

	policy     retry.Policy
	sizePolicy retry.Policy

	dirs  *workQueue[tree.NodeID]
	sizes *workQueue[tree.FileRef]

	dirWorkers  int
	sizeWorkers int
	dirsDone    atomic.Bool
	cancel      context.CancelCauseFunc

	statusMu sync.Mutex
	status   map[string]string // worker -> URL being processed
}

// New creates a crawler for sess using adapter.
func New(cfg *config.CrawlConfig, adapter backend.Adapter, sess *session.Session) (*Crawler, error) {
	scope, err := NewScope(sess.RootURL, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy(cfg.MaxRetries)
	if cfg.RetryCap > 0 {
		policy.Cap = cfg.RetryCap
	}
	sizePolicy := retry.DefaultPolicy(sizeAttempts)

	c := &Crawler{
		config:      cfg,
		adapter:     adapter,
		sess:        sess,
		scope:       scope,
		policy:      policy,
		sizePolicy:  sizePolicy,
		dirs:        newWorkQueue[tree.NodeID](true),
		sizes:       newWorkQueue[tree.FileRef](false),
		dirWorkers:  cfg.Workers,
		sizeWorkers: cfg.SizeWorkers,
		status:      make(map[string]string),
	}
	if c.dirWorkers <= 0 {
		c.dirWorkers = adapter.DefaultWorkers()
	}
	if c.sizeWorkers <= 0 {
		c.sizeWorkers = defaultSizeWorkers
	}
	if prober, ok := adapter.(backend.SizeProber); ok && !cfg.FastScan {
		c.prober = prober
	}
	return c, nil
}

// Run crawls until both pools drain, ctx is cancelled or a fatal error
// occurs. It returns the fatal error or the context error; node failures
// are recorded in the session instead.
func (c *Crawler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.cancel = cancel
	defer c.sess.Finish()

	if init, ok := c.adapter.(backend.Initializer); ok {
		if err := init.Init(ctx, c.sess); err != nil {
			if !backend.IsFatal(err) {
				err = &backend.FatalError{Backend: c.adapter.Name(), Err: err}
			}
			slog.Error("Backend initialization failed", "backend", c.adapter.Name(), "error", err)
			return err
		}
	}

	slog.Info("Starting crawler",
		"root", c.sess.RootURL,
		"backend", c.adapter.Name(),
		"workers", c.dirWorkers,
		"size_workers", c.sizeWorkers,
		"fast_scan", c.config.FastScan,
		"exact_sizes", c.config.ExactSizes,
	)

	stopDirs := c.dirs.CloseOnDone(ctx)
	defer stopDirs()
	stopSizes := c.sizes.CloseOnDone(ctx)
	defer stopSizes()

	c.dirs.Push(c.sess.Tree.Root())

	var dirPool, sizePool sync.WaitGroup
	for i := 0; i < c.dirWorkers; i++ {
		dirPool.Add(1)
		go func() {
			defer dirPool.Done()
			c.dirWorker(ctx, i)
		}()
	}
	if c.prober != nil {
		for i := 0; i < c.sizeWorkers; i++ {
			sizePool.Add(1)
			go func() {
				defer sizePool.Done()
				c.sizeWorker(ctx, i)
			}()
		}
	}

	reporterDone := make(chan struct{})
	var reporter sync.WaitGroup
	reporter.Add(1)
	go func() {
		defer reporter.Done()
		c.statsReporter(ctx, reporterDone)
	}()

	dirPool.Wait()
	c.dirsDone.Store(true)
	c.sizes.Seal()
	if ctx.Err() == nil {
		slog.Info("Directory crawl finished", "pending_sizes", c.sizes.Len()+c.sizes.Active())
	}

	sizePool.Wait()
	close(reporterDone)
	reporter.Wait()

	if cause := context.Cause(ctx); cause != nil {
		if backend.IsFatal(cause) {
			return cause
		}
		slog.Info("Crawling cancelled")
		return cause
	}

	slog.Info("Crawling completed")
	return nil
}

// WorkerStatus returns which URL each busy worker is processing.
func (c *Crawler) WorkerStatus() map[string]string {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	out := make(map[string]string, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

func (c *Crawler) setStatus(worker, url string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if url == "" {
		delete(c.status, worker)
		return
	}
	c.status[worker] = url
}

// dirWorker processes directories until the queue is drained.
func (c *Crawler) dirWorker(ctx context.Context, id int) {
	name := fmt.Sprintf("dir-%d", id)
	slog.Debug("Worker started", "worker_id", name)
	defer slog.Debug("Worker stopped", "worker_id", name)

	for {
		nodeID, ok := c.dirs.Dequeue()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			c.dirs.Done()
			return
		}
		c.processNode(ctx, name, nodeID)
		c.setStatus(name, "")
		c.dirs.Done()
	}
}

// processNode fetches one directory, merges it and schedules follow-up work.
func (c *Crawler) processNode(ctx context.Context, worker string, id tree.NodeID) {
	node, ok := c.sess.Tree.Node(id)
	if !ok {
		return
	}

	if !c.sess.MarkProcessed(node.URL) {
		slog.Info("Already processed, skipping", "worker_id", worker, "url", node.URL)
		c.sess.RecordSkipped()
		return
	}
	c.setStatus(worker, node.URL)

	policy := c.policy
	policy.OnRetry = func(ev retry.Event) {
		if backend.IsFatal(ev.Err) || errors.Is(ev.Err, backend.ErrSkipped) {
			ev.Cancel(ev.Err)
			return
		}
		if ev.Final {
			return
		}
		slog.Warn("Fetch failed, retrying",
			"worker_id", worker, "url", node.URL, "attempt", ev.Attempt, "delay", ev.Delay, "error", ev.Err)
	}

	frag, err := retry.Do(ctx, policy, func(ctx context.Context) (*tree.Fragment, error) {
		return c.adapter.Fetch(ctx, node, c.sess)
	})
	if err != nil {
		c.handleFetchError(ctx, worker, node, err)
		return
	}

	c.applyScope(frag)
	result := c.sess.Tree.Merge(id, frag)

	if ancestor, loop := c.sess.Tree.FindLoop(id, tree.LoopCheckDepth); loop {
		anc, _ := c.sess.Tree.Node(ancestor)
		slog.Error("Directory repeats an ancestor, not descending",
			"worker_id", worker, "url", node.URL, "ancestor", anc.URL)
		c.sess.Tree.MarkError(id, true)
		c.sess.RecordError(node.URL)
		return
	}

	for _, cid := range result.Completed {
		if child, ok := c.sess.Tree.Node(cid); ok {
			c.sess.MarkProcessed(child.URL)
		}
	}

	var next []tree.NodeID
	for _, cid := range result.Pending {
		child, ok := c.sess.Tree.Node(cid)
		if !ok {
			continue
		}
		if c.sess.IsProcessed(child.URL) {
			slog.Debug("Subdirectory already processed", "worker_id", worker, "url", child.URL)
			c.sess.RecordSkipped()
			continue
		}
		next = append(next, cid)
	}
	c.dirs.Push(next...)

	if c.prober != nil {
		if c.config.ExactSizes {
			c.sizes.Push(result.Files...)
		} else {
			c.sizes.Push(result.UnknownFiles...)
		}
	}

	slog.Info("Worker processed directory",
		"worker_id", worker,
		"url", node.URL,
		"parser", frag.ParserTag,
		"dirs", len(result.Pending)+len(result.Completed),
		"files", len(result.Files),
	)
}

// applyScope drops subdirectories outside the crawl scope. Complete
// sub-fragments come from the backend's own API and are kept.
func (c *Crawler) applyScope(frag *tree.Fragment) {
	kept := frag.Subdirectories[:0]
	for _, sub := range frag.Subdirectories {
		if sub.Complete || c.scope.Allows(sub.URL) {
			kept = append(kept, sub)
			continue
		}
		slog.Debug("Out of scope, dropped", "url", sub.URL)
	}
	frag.Subdirectories = kept
}

func (c *Crawler) handleFetchError(ctx context.Context, worker string, node tree.DirectoryNode, err error) {
	switch {
	case backend.IsFatal(err):
		slog.Error("Fatal backend error, stopping", "worker_id", worker, "url", node.URL, "error", err)
		c.sess.Tree.MarkError(node.ID, false)
		c.sess.RecordError(node.URL)
		c.cancel(err)

	case errors.Is(err, backend.ErrSkipped):
		slog.Info("Directory skipped", "worker_id", worker, "url", node.URL, "reason", err)
		c.sess.RecordSkipped()

	case ctx.Err() != nil:
		slog.Debug("Fetch interrupted", "worker_id", worker, "url", node.URL)

	default:
		slog.Error("Worker failed to process directory", "worker_id", worker, "url", node.URL, "error", err)
		c.sess.Tree.MarkError(node.ID, false)
		c.sess.RecordError(node.URL)
	}
}

// sizeWorker resolves unknown file sizes.
func (c *Crawler) sizeWorker(ctx context.Context, id int) {
	name := fmt.Sprintf("size-%d", id)
	for {
		ref, ok := c.sizes.Dequeue()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			c.sizes.Done()
			return
		}
		c.setStatus(name, ref.URL)
		c.resolveSize(ctx, ref)
		c.setStatus(name, "")
		c.sizes.Done()
	}
}

func (c *Crawler) resolveSize(ctx context.Context, ref tree.FileRef) {
	n, err := retry.Do(ctx, c.sizePolicy, func(ctx context.Context) (int64, error) {
		return c.prober.ProbeSize(ctx, ref.URL, c.sess)
	})
	if err != nil {
		slog.Debug("File size unresolved", "url", ref.URL, "error", err)
		return
	}
	c.sess.Tree.SetFileSize(ref, n)
}

// busyWorkers returns worker names in a stable order for logging.
func busyWorkers(status map[string]string) []string {
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
