package parser

import (
	"net/url"
	"strings"

	"github.com/masahif/opendir/internal/tree"
)

// entry is a resolved listing link.
type entry struct {
	URL   string
	Name  string
	IsDir bool
}

// baseDir returns u with a trailing slash so relative links resolve inside
// the directory.
func baseDir(u *url.URL) *url.URL {
	b := *u
	b.RawQuery = ""
	b.Fragment = ""
	if !strings.HasSuffix(b.Path, "/") {
		b.Path += "/"
		if b.RawPath != "" {
			b.RawPath += "/"
		}
	}
	return &b
}

// resolveEntry resolves href against the directory and keeps it only if it
// points at a direct child. Parent links, sort links and anything outside the
// directory are rejected.
func resolveEntry(dir *url.URL, href string) (entry, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
		return entry{}, false
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return entry{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return entry{}, false
	}
	abs := dir.ResolveReference(ref)
	abs.Fragment = ""

	if abs.Scheme != dir.Scheme || abs.Host != dir.Host {
		return entry{}, false
	}
	if abs.RawQuery != "" {
		return entry{}, false
	}
	if !strings.HasPrefix(abs.Path, dir.Path) || len(abs.Path) <= len(dir.Path) {
		return entry{}, false
	}

	rest := strings.TrimSuffix(abs.Path[len(dir.Path):], "/")
	if rest == "" || strings.Contains(rest, "/") {
		return entry{}, false
	}

	u := abs.String()
	return entry{
		URL:   u,
		Name:  tree.NameFromURL(u),
		IsDir: strings.HasSuffix(abs.Path, "/"),
	}, true
}

// childURL builds the URL of a named child of dir.
func childURL(dir *url.URL, name string, isDir bool) string {
	p := "./" + url.PathEscape(name)
	if isDir {
		p += "/"
	}
	ref, err := url.Parse(p)
	if err != nil {
		return ""
	}
	return dir.ResolveReference(ref).String()
}

// collector accumulates entries into a fragment, skipping repeats.
type collector struct {
	frag *tree.Fragment
	seen map[string]bool
}

func newCollector(u *url.URL) *collector {
	return &collector{frag: tree.NewFragment(u.String()), seen: make(map[string]bool)}
}

func (c *collector) add(e entry, size tree.FileSize, desc string) {
	if c.seen[e.URL] {
		return
	}
	c.seen[e.URL] = true

	if e.IsDir {
		sub := c.frag.AddDir(e.URL, e.Name)
		sub.Description = desc
		return
	}
	c.frag.Files = append(c.frag.Files, tree.FragmentFile{URL: e.URL, Name: e.Name, Size: size, Description: desc})
}

func (c *collector) len() int {
	return len(c.frag.Files) + len(c.frag.Subdirectories)
}
