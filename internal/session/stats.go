package session

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary is a point-in-time view of a session. Tree totals are folded from
// the tree on every call rather than cached.
type Summary struct {
	RootURL          string
	TotalDirectories int
	TotalFiles       int
	TotalSize        int64
	UnknownSizes     int
	ErrorDirectories int
	Unfinished       int
	Requests         int64
	Traffic          int64
	Errors           int64
	Skipped          int64
	StatusCodes      map[int]int
	ErrorURLs        []string
	Duration         time.Duration
}

// Summary computes the current statistics.
func (s *Session) Summary() Summary {
	totals := s.Tree.Totals()

	end := s.Finished
	if end.IsZero() {
		end = time.Now().UTC()
	}

	return Summary{
		RootURL:          s.RootURL,
		TotalDirectories: totals.Directories,
		TotalFiles:       totals.Files,
		TotalSize:        totals.Size,
		UnknownSizes:     totals.UnknownSizes,
		ErrorDirectories: totals.Errors,
		Unfinished:       totals.Unfinished,
		Requests:         s.Requests(),
		Traffic:          s.Traffic(),
		Errors:           s.Errors(),
		Skipped:          s.Skipped(),
		StatusCodes:      s.StatusCodes(),
		ErrorURLs:        s.ErrorURLs(),
		Duration:         end.Sub(s.Started),
	}
}

// WriteTo prints a human-readable report.
func (sum Summary) WriteTo(w io.Writer) (int64, error) {
	var written int64
	printf := func(format string, args ...any) error {
		n, err := fmt.Fprintf(w, format, args...)
		written += int64(n)
		return err
	}

	lines := []struct {
		format string
		args   []any
	}{
		{"Root:          %s\n", []any{sum.RootURL}},
		{"Directories:   %s\n", []any{humanize.Comma(int64(sum.TotalDirectories))}},
		{"Files:         %s\n", []any{humanize.Comma(int64(sum.TotalFiles))}},
		{"Total size:    %s (%s bytes)\n", []any{humanize.IBytes(uint64(sum.TotalSize)), humanize.Comma(sum.TotalSize)}},
		{"Unknown sizes: %d\n", []any{sum.UnknownSizes}},
		{"Requests:      %s (%s received)\n", []any{humanize.Comma(sum.Requests), humanize.IBytes(uint64(sum.Traffic))}},
		{"Errors:        %d\n", []any{sum.Errors}},
		{"Skipped:       %d\n", []any{sum.Skipped}},
		{"Duration:      %s\n", []any{sum.Duration.Round(time.Second)}},
	}
	for _, l := range lines {
		if err := printf(l.format, l.args...); err != nil {
			return written, err
		}
	}

	if len(sum.StatusCodes) > 0 {
		codes := make([]int, 0, len(sum.StatusCodes))
		for code := range sum.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		if err := printf("HTTP status codes:\n"); err != nil {
			return written, err
		}
		for _, code := range codes {
			if err := printf("  %d: %d\n", code, sum.StatusCodes[code]); err != nil {
				return written, err
			}
		}
	}

	if len(sum.ErrorURLs) > 0 {
		if err := printf("URLs with errors:\n"); err != nil {
			return written, err
		}
		for _, u := range sum.ErrorURLs {
			if err := printf("  %s\n", u); err != nil {
				return written, err
			}
		}
	}

	return written, nil
}
