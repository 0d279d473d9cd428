package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/masahif/opendir/internal/tree"
)

// nginxEntry is one element of nginx's autoindex_format json output.
type nginxEntry struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	MTime string `json:"mtime"`
	Size  *int64 `json:"size"`
}

// NginxJSONRule parses nginx autoindex JSON arrays.
func NginxJSONRule() Rule {
	return Rule{
		Name: "nginx-json",
		Match: func(p *Page) bool {
			body := bytes.TrimSpace(p.Body)
			if len(body) == 0 || body[0] != '[' {
				return false
			}
			return p.ContentType == "" || strings.Contains(p.ContentType, "json")
		},
		Parse: parseNginxJSON,
	}
}

func parseNginxJSON(p *Page) (*tree.Fragment, error) {
	var entries []nginxEntry
	if err := json.Unmarshal(p.Body, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedListing, err)
	}

	dir := baseDir(p.URL)
	c := newCollector(p.URL)
	for _, e := range entries {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			continue
		}

		isDir := e.Type == "directory"
		u := childURL(dir, e.Name, isDir)
		if u == "" {
			continue
		}

		size := tree.UnknownSize
		if e.Size != nil {
			size = tree.KnownSize(*e.Size)
		}
		c.add(entry{URL: u, Name: e.Name, IsDir: isDir}, size, "")
	}
	return c.frag, nil
}
