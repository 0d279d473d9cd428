// Package parser turns directory listing pages into tree fragments.
//
// A Chain holds ordered rules. Each rule pairs a cheap predicate with a
// parser; the first rule whose predicate matches parses the page. Parsers
// report ParsedOK=false instead of guessing when a page does not look like a
// listing they understand.
package parser

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/masahif/opendir/internal/tree"
)

// Page is a fetched directory page.
type Page struct {
	URL         *url.URL
	Body        []byte
	ContentType string
	Header      http.Header

	doc    *goquery.Document
	docErr error
}

// NewPage builds a page for rawURL.
func NewPage(rawURL string, body []byte, header http.Header) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	if header == nil {
		header = http.Header{}
	}
	return &Page{
		URL:         u,
		Body:        body,
		ContentType: header.Get("Content-Type"),
		Header:      header,
	}, nil
}

// Document parses the body as HTML once and caches the result.
func (p *Page) Document() (*goquery.Document, error) {
	if p.doc != nil || p.docErr != nil {
		return p.doc, p.docErr
	}

	node, err := html.Parse(bytes.NewReader(p.Body))
	if err != nil {
		p.docErr = fmt.Errorf("failed to parse HTML: %w", err)
		return nil, p.docErr
	}
	p.doc = goquery.NewDocumentFromNode(node)
	return p.doc, nil
}

// Title returns the trimmed document title, or "" for non-HTML pages.
func (p *Page) Title() string {
	doc, err := p.Document()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Rule is one (predicate, parser) pair.
type Rule struct {
	Name  string
	Match func(p *Page) bool
	Parse func(p *Page) (*tree.Fragment, error)
}

// Chain evaluates rules in order.
type Chain struct {
	rules []Rule
}

// NewChain returns a chain over rules.
func NewChain(rules ...Rule) *Chain {
	return &Chain{rules: rules}
}

// DefaultChain knows the common web server listing formats and falls back to
// plain anchor extraction.
func DefaultChain() *Chain {
	return NewChain(NginxJSONRule(), ApacheTableRule(), PreListingRule(), AnchorsRule())
}

// Parse runs the first matching rule. It never returns nil: a page no rule
// accepts yields a fragment with ParsedOK=false.
func (c *Chain) Parse(p *Page) *tree.Fragment {
	for _, r := range c.rules {
		if !r.Match(p) {
			continue
		}

		frag, err := r.Parse(p)
		if err != nil {
			return &tree.Fragment{URL: p.URL.String(), ParserTag: r.Name, Err: err}
		}
		frag.ParserTag = r.Name
		return frag
	}

	return &tree.Fragment{URL: p.URL.String(), Err: ErrNotListing}
}
