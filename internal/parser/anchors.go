package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/masahif/opendir/internal/tree"
)

// AnchorsRule is the fallback: every anchor pointing at a direct child of
// the directory becomes an entry of unknown size. A page with no such
// anchors is only accepted when its title or heading announces a listing.
func AnchorsRule() Rule {
	return Rule{
		Name: "anchors",
		Match: func(p *Page) bool {
			_, err := p.Document()
			return err == nil
		},
		Parse: parseAnchors,
	}
}

func parseAnchors(p *Page) (*tree.Fragment, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}

	dir := baseDir(p.URL)
	c := newCollector(p.URL)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if e, ok := resolveEntry(dir, href); ok {
			c.add(e, tree.UnknownSize, "")
		}
	})

	if c.len() == 0 && !looksLikeListing(p, doc) {
		c.frag.ParsedOK = false
		c.frag.Err = ErrNotListing
	}
	return c.frag, nil
}

func looksLikeListing(p *Page, doc *goquery.Document) bool {
	heading := p.Title() + " " + doc.Find("h1").First().Text()
	return strings.Contains(strings.ToLower(heading), "index of")
}
