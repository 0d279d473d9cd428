// Package tree holds the directory tree discovered during a crawl.
//
// Nodes live in an arena indexed by NodeID. Children are referenced by ID and
// the parent link is a plain ID, so the structure has no pointer cycles and
// serialises as a simple nested document.
package tree

import (
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
)

// NodeID identifies a directory node inside a Tree.
type NodeID int

// NoParent is the parent of the root node.
const NoParent NodeID = -1

// FileEntry is a file owned by exactly one directory.
type FileEntry struct {
	URL         string
	Name        string
	Size        FileSize
	Description string
}

// DirectoryNode is one directory in the crawl tree. Values returned by Tree
// accessors are snapshots; mutate through Tree methods.
type DirectoryNode struct {
	ID          NodeID
	Parent      NodeID
	URL         string
	Name        string
	Description string
	ParserTag   string
	Dirs        []NodeID
	Files       []FileEntry

	// Finished is set once this node's own listing has been merged.
	Finished bool
	// Error is set when fetching or parsing failed terminally, or when the
	// node was identified as a loop back into an ancestor.
	Error bool
}

// FileRef points at a file inside a node.
type FileRef struct {
	Node NodeID
	URL  string
}

// MergeResult reports what a Merge added.
type MergeResult struct {
	// Pending are newly created subdirectories that still need a fetch.
	Pending []NodeID
	// Completed are nodes whose listing came with the fragment itself.
	Completed []NodeID
	// Files lists every file in the merged nodes.
	Files []FileRef
	// UnknownFiles lists the files whose size still needs resolution.
	UnknownFiles []FileRef
}

// Tree is a concurrency-safe arena of directory nodes.
type Tree struct {
	mu    sync.RWMutex
	nodes []*DirectoryNode
}

// New creates a tree whose root is rootURL.
func New(rootURL string) *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, &DirectoryNode{
		ID:     0,
		Parent: NoParent,
		URL:    rootURL,
		Name:   NameFromURL(rootURL),
	})
	return t
}

// Root returns the root node ID.
func (t *Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes ever created, including nodes detached by
// a re-merge.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Node returns a snapshot of the node.
func (t *Tree) Node(id NodeID) (DirectoryNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.get(id)
	if n == nil {
		return DirectoryNode{}, false
	}
	return n.snapshot(), true
}

// addDirectory appends a new, unfetched child directory to parent.
func (t *Tree) addDirectory(parent NodeID, dirURL, name string) (NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(parent)
	if p == nil {
		return NoParent, false
	}
	return t.addChild(p, dirURL, name), true
}

// Merge overwrites the node's listing with frag. Existing children are reused
// by URL, so merging the same fragment twice does not duplicate anything.
// Complete subdirectories are merged recursively and reported in Completed.
func (t *Tree) Merge(id NodeID, frag *Fragment) MergeResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result MergeResult
	if n := t.get(id); n != nil {
		t.merge(n, frag, &result)
	}
	return result
}

func (t *Tree) merge(n *DirectoryNode, frag *Fragment, result *MergeResult) {
	if frag.Name != "" {
		n.Name = frag.Name
	}
	n.Description = frag.Description
	n.ParserTag = frag.ParserTag

	existing := make(map[string]NodeID, len(n.Dirs))
	for _, childID := range n.Dirs {
		existing[t.nodes[childID].URL] = childID
	}

	dirs := make([]NodeID, 0, len(frag.Subdirectories))
	seenDirs := make(map[string]bool, len(frag.Subdirectories))
	for _, sub := range frag.Subdirectories {
		if sub == nil || sub.URL == "" || seenDirs[sub.URL] {
			continue
		}
		seenDirs[sub.URL] = true

		childID, reused := existing[sub.URL]
		if !reused {
			name := sub.Name
			if name == "" {
				name = NameFromURL(sub.URL)
			}
			childID = NodeID(len(t.nodes))
			t.nodes = append(t.nodes, &DirectoryNode{ID: childID, Parent: n.ID, URL: sub.URL, Name: name})
		}
		dirs = append(dirs, childID)

		child := t.nodes[childID]
		switch {
		case sub.Complete:
			t.merge(child, sub, result)
			result.Completed = append(result.Completed, childID)
		case !reused:
			result.Pending = append(result.Pending, childID)
		}
	}
	n.Dirs = dirs

	files := make([]FileEntry, 0, len(frag.Files))
	seenFiles := make(map[string]bool, len(frag.Files))
	for _, f := range frag.Files {
		if f.URL == "" || seenFiles[f.URL] {
			continue
		}
		seenFiles[f.URL] = true

		name := f.Name
		if name == "" {
			name = NameFromURL(f.URL)
		}
		files = append(files, FileEntry{URL: f.URL, Name: name, Size: f.Size, Description: f.Description})

		ref := FileRef{Node: n.ID, URL: f.URL}
		result.Files = append(result.Files, ref)
		if !f.Size.Known {
			result.UnknownFiles = append(result.UnknownFiles, ref)
		}
	}
	n.Files = files
	n.Finished = true
}

// MarkError flags the node as failed. With clear set its children are
// discarded as well.
func (t *Tree) MarkError(id NodeID, clear bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.get(id)
	if n == nil {
		return
	}
	n.Error = true
	if clear {
		n.Dirs = nil
		n.Files = nil
	}
}

// SetFileSize records a resolved size for the referenced file.
func (t *Tree) SetFileSize(ref FileRef, size int64) bool {
	if size < 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.get(ref.Node)
	if n == nil {
		return false
	}
	for i := range n.Files {
		if n.Files[i].URL == ref.URL {
			n.Files[i].Size = KnownSize(size)
			return true
		}
	}
	return false
}

// Walk visits the nodes reachable from the root depth-first, parents before
// children. Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(n DirectoryNode, depth int) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var visit func(id NodeID, depth int)
	visit = func(id NodeID, depth int) {
		n := t.get(id)
		if n == nil || !fn(n.snapshot(), depth) {
			return
		}
		for _, child := range n.Dirs {
			visit(child, depth+1)
		}
	}
	visit(0, 0)
}

// Totals is a fold over the reachable tree.
type Totals struct {
	Directories  int
	Files        int
	Size         int64 // sum of known sizes
	UnknownSizes int
	Errors       int
	Unfinished   int
}

// Totals recomputes the counters from the tree on every call.
func (t *Tree) Totals() Totals {
	var totals Totals
	t.Walk(func(n DirectoryNode, depth int) bool {
		if depth > 0 {
			totals.Directories++
		}
		if n.Error {
			totals.Errors++
		}
		if !n.Finished && !n.Error {
			totals.Unfinished++
		}
		for _, f := range n.Files {
			totals.Files++
			if f.Size.Known {
				totals.Size += f.Size.Bytes
			} else {
				totals.UnknownSizes++
			}
		}
		return true
	})
	return totals
}

// FileURLs returns every file URL in the tree, sorted and deduplicated.
func (t *Tree) FileURLs() []string {
	seen := make(map[string]struct{})
	t.Walk(func(n DirectoryNode, _ int) bool {
		for _, f := range n.Files {
			seen[f.URL] = struct{}{}
		}
		return true
	})

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// NameFromURL derives a display name from the last path segment of rawURL,
// falling back to the host for the root path.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	p := strings.TrimSuffix(u.Path, "/")
	if p == "" {
		return u.Host
	}

	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func (t *Tree) get(id NodeID) *DirectoryNode {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

func (t *Tree) addChild(p *DirectoryNode, dirURL, name string) NodeID {
	if name == "" {
		name = NameFromURL(dirURL)
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &DirectoryNode{ID: id, Parent: p.ID, URL: dirURL, Name: name})
	p.Dirs = append(p.Dirs, id)
	return id
}

func (n *DirectoryNode) snapshot() DirectoryNode {
	c := *n
	c.Dirs = append([]NodeID(nil), n.Dirs...)
	c.Files = append([]FileEntry(nil), n.Files...)
	return c
}
