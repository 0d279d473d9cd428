package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/masahif/opendir/internal/ratelimit"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
	"github.com/masahif/opendir/internal/tree"
)

const (
	catalogPageSize  = 500
	catalogBatchSize = 100
	catalogParallel  = 4
)

// catalogMarkers identify a calibre content server from the root page.
var catalogMarkers = [][]byte{
	[]byte(`content="calibre`),
	[]byte(`calibre_content_server`),
	[]byte(`/static/calibre.ico`),
}

func isCatalog(resp *HTTPResponse) bool {
	if strings.Contains(strings.ToLower(resp.Server), "calibre") {
		return true
	}
	for _, m := range catalogMarkers {
		if bytes.Contains(resp.Body, m) {
			return true
		}
	}
	return false
}

type catalogSearch struct {
	TotalNum int   `json:"total_num"`
	BookIDs  []int `json:"book_ids"`
}

type catalogBook struct {
	Title          string                    `json:"title"`
	Authors        []string                  `json:"authors"`
	Formats        []string                  `json:"formats"`
	FormatMetadata map[string]catalogFormat `json:"format_metadata"`
}

type catalogFormat struct {
	Size *int64 `json:"size"`
}

// CatalogClient lists a calibre library through its JSON API. Every book
// becomes a complete subdirectory holding one file per available format.
type CatalogClient struct {
	api apiClient
}

// NewCatalogClient builds a client sharing the HTTP transport.
func NewCatalogClient(client *HTTPClient, limiter *ratelimit.Limiter, policy retry.Policy) *CatalogClient {
	return &CatalogClient{api: apiClient{name: NameCatalog, client: client, limiter: limiter, policy: policy}}
}

// FetchAll returns the whole library as one fragment rooted at rootURL.
func (c *CatalogClient) FetchAll(ctx context.Context, rootURL string, sess *session.Session) (*tree.Fragment, error) {
	base, err := catalogBase(rootURL)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	ids, err := c.bookIDs(ctx, base, sess)
	if err != nil {
		return nil, err
	}
	slog.Info("Catalog listing", "url", base, "books", len(ids))

	var batches [][]int
	for start := 0; start < len(ids); start += catalogBatchSize {
		end := min(start+catalogBatchSize, len(ids))
		batches = append(batches, ids[start:end])
	}

	results := make([]map[string]*catalogBook, len(batches))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogParallel)
	for i, batch := range batches {
		g.Go(func() error {
			books, err := c.books(gctx, base, batch, sess)
			if err != nil {
				return err
			}
			results[i] = books
			n := done.Add(int64(len(batch)))
			slog.Info("Catalog progress", "books", n, "total", len(ids))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	frag := tree.NewFragment(rootURL)
	frag.Description = "calibre library"
	for i, batch := range batches {
		for _, id := range batch {
			book := results[i][strconv.Itoa(id)]
			if book == nil {
				continue
			}
			addBook(frag, base, id, book)
		}
	}
	return frag, nil
}

func (c *CatalogClient) bookIDs(ctx context.Context, base string, sess *session.Session) ([]int, error) {
	var ids []int
	for offset := 0; ; offset += catalogPageSize {
		q := url.Values{}
		q.Set("num", strconv.Itoa(catalogPageSize))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("sort", "id")
		q.Set("sort_order", "asc")

		var page catalogSearch
		if err := c.api.call(ctx, sess, HTTPRequest{URL: base + "ajax/search?" + q.Encode()}, &page); err != nil {
			return nil, err
		}
		ids = append(ids, page.BookIDs...)

		if len(page.BookIDs) == 0 || len(ids) >= page.TotalNum {
			return ids, nil
		}
	}
}

func (c *CatalogClient) books(ctx context.Context, base string, ids []int, sess *session.Session) (map[string]*catalogBook, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}

	books := make(map[string]*catalogBook, len(ids))
	u := base + "ajax/books?ids=" + strings.Join(parts, ",")
	if err := c.api.call(ctx, sess, HTTPRequest{URL: u}, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func addBook(frag *tree.Fragment, base string, id int, book *catalogBook) {
	title := strings.TrimSpace(book.Title)
	if title == "" {
		title = "book " + strconv.Itoa(id)
	}
	name := title
	if len(book.Authors) > 0 {
		name = title + " - " + strings.Join(book.Authors, ", ")
	}

	sub := frag.AddDir(fmt.Sprintf("%sbrowse/book/%d", base, id), name)
	sub.Complete = true

	formats := append([]string(nil), book.Formats...)
	sort.Strings(formats)
	for _, format := range formats {
		lower := strings.ToLower(format)
		size := tree.UnknownSize
		if meta, ok := book.FormatMetadata[lower]; ok && meta.Size != nil {
			size = tree.KnownSize(*meta.Size)
		}
		fileURL := fmt.Sprintf("%sget/%s/%d", base, strings.ToUpper(format), id)
		sub.AddFile(fileURL, title+"."+lower, size)
	}
}

// catalogBase strips query and fragment and guarantees a trailing slash.
func catalogBase(rootURL string) (string, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return "", fmt.Errorf("invalid catalog URL: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}
