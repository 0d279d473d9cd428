package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/masahif/opendir/internal/tree"
)

// PreListingRule parses plain listings rendered inside a pre element, where
// each anchor is followed by a date and a size on the same line (nginx
// autoindex, Apache without FancyIndexing).
func PreListingRule() Rule {
	return Rule{
		Name: "pre-listing",
		Match: func(p *Page) bool {
			doc, err := p.Document()
			if err != nil {
				return false
			}
			return doc.Find("pre a[href]").Length() > 0
		},
		Parse: parsePreListing,
	}
}

func parsePreListing(p *Page) (*tree.Fragment, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}

	dir := baseDir(p.URL)
	c := newCollector(p.URL)
	doc.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		for _, n := range pre.Nodes {
			walkPre(n, dir, c)
		}
	})
	return c.frag, nil
}

// walkPre visits the anchors of a pre block and reads the size column from
// the text that follows each anchor up to the end of its line.
func walkPre(pre *html.Node, dir *url.URL, c *collector) {
	for n := pre.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode || n.Data != "a" {
			if n.Type == html.ElementNode && n.FirstChild != nil && n.Data != "a" {
				// Some servers wrap rows in spans.
				walkPre(n, dir, c)
			}
			continue
		}

		href := attr(n, "href")
		e, ok := resolveEntry(dir, href)
		if !ok {
			continue
		}

		size := tree.UnknownSize
		if !e.IsDir {
			size = ParseSize(lastField(trailingLine(n)))
		}
		c.add(e, size, "")
	}
}

// trailingLine collects the text after n up to the next newline or anchor.
func trailingLine(n *html.Node) string {
	var b strings.Builder
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == "a" {
			break
		}
		if s.Type != html.TextNode {
			continue
		}
		if i := strings.IndexByte(s.Data, '\n'); i >= 0 {
			b.WriteString(s.Data[:i])
			break
		}
		b.WriteString(s.Data)
	}
	return b.String()
}

func lastField(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		// A lone token is a date fragment or nothing, never a size.
		return ""
	}
	return fields[len(fields)-1]
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
