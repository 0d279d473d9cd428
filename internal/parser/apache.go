package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/masahif/opendir/internal/tree"
)

// tableColumns locates the interesting columns of a listing table.
type tableColumns struct {
	size int
	desc int
}

// ApacheTableRule parses "fancy" listings laid out as an HTML table with
// Name and Size headers (Apache FancyIndexing, lighttpd, many others).
func ApacheTableRule() Rule {
	return Rule{
		Name: "apache-table",
		Match: func(p *Page) bool {
			_, ok := listingTable(p)
			return ok
		},
		Parse: parseApacheTable,
	}
}

// listingTable finds the first table whose header row names both a Name and
// a Size column.
func listingTable(p *Page) (*goquery.Selection, bool) {
	doc, err := p.Document()
	if err != nil {
		return nil, false
	}

	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		cols := headerCells(t)
		if indexOf(cols, "name") >= 0 && indexOf(cols, "size") >= 0 {
			found = t
			return false
		}
		return true
	})
	return found, found != nil
}

// headerCells returns the lower-cased header texts of a table. Header cells
// may be th elements or the first row of td cells.
func headerCells(t *goquery.Selection) []string {
	var cells []string
	row := t.Find("tr").FilterFunction(func(_ int, r *goquery.Selection) bool {
		return r.Find("th").Length() > 0
	}).First()
	row.Find("th, td").Each(func(_ int, c *goquery.Selection) {
		cells = append(cells, strings.ToLower(strings.TrimSpace(c.Text())))
	})
	return cells
}

func indexOf(cells []string, name string) int {
	for i, c := range cells {
		if strings.HasPrefix(c, name) {
			return i
		}
	}
	return -1
}

func parseApacheTable(p *Page) (*tree.Fragment, error) {
	table, ok := listingTable(p)
	if !ok {
		return nil, ErrNotListing
	}

	header := headerCells(table)
	cols := tableColumns{
		size: indexOf(header, "size"),
		desc: indexOf(header, "description"),
	}

	dir := baseDir(p.URL)
	c := newCollector(p.URL)
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}

		var e entry
		var found bool
		row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			e, found = resolveEntry(dir, href)
			return !found
		})
		if !found {
			return
		}

		size := tree.UnknownSize
		if !e.IsDir && cols.size >= 0 && cols.size < cells.Length() {
			size = ParseSize(cells.Eq(cols.size).Text())
		}
		var desc string
		if cols.desc >= 0 && cols.desc < cells.Length() {
			desc = strings.TrimSpace(cells.Eq(cols.desc).Text())
		}
		c.add(e, size, desc)
	})
	return c.frag, nil
}
