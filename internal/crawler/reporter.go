package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// statsReporter periodically logs crawl progress. Once the directory pool
// has finished it reports more often while sizes are still being resolved.
func (c *Crawler) statsReporter(ctx context.Context, done <-chan struct{}) {
	interval := c.config.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-timer.C:
			c.logStats()

			next := interval
			if c.dirsDone.Load() && next > tailReportInterval {
				next = tailReportInterval
			}
			timer.Reset(next)
		}
	}
}

func (c *Crawler) logStats() {
	sum := c.sess.Summary()
	slog.Info("Crawling stats",
		"dirs_queued", c.dirs.Len(),
		"dirs_active", c.dirs.Active(),
		"sizes_queued", c.sizes.Len(),
		"sizes_active", c.sizes.Active(),
		"processed", c.sess.ProcessedCount(),
		"directories", sum.TotalDirectories,
		"files", sum.TotalFiles,
		"total_size", humanize.IBytes(uint64(sum.TotalSize)),
		"unknown_sizes", sum.UnknownSizes,
		"errors", sum.Errors,
		"skipped", sum.Skipped,
		"requests", sum.Requests,
		"duration", sum.Duration.Round(time.Second),
	)

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		status := c.WorkerStatus()
		for _, name := range busyWorkers(status) {
			slog.Debug("Worker status", "worker_id", name, "url", status[name])
		}
	}
}
