package tree

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// LoopCheckDepth is how many ancestor levels a listing is compared against.
const LoopCheckDepth = 4

// Signature summarises a listing: counts plus a digest of the (name, size)
// multiset of its files.
type Signature struct {
	Files  int
	Dirs   int
	Digest uint64
}

func signatureOf(n *DirectoryNode) Signature {
	rows := make([]string, len(n.Files))
	for i, f := range n.Files {
		rows[i] = f.Name + "\x00" + sizeKey(f.Size)
	}
	sort.Strings(rows)

	d := xxhash.New()
	for _, row := range rows {
		_, _ = d.WriteString(row)
		_, _ = d.WriteString("\n")
	}

	return Signature{Files: len(n.Files), Dirs: len(n.Dirs), Digest: d.Sum64()}
}

func sizeKey(s FileSize) string {
	if !s.Known {
		return "?"
	}
	return strconv.FormatInt(s.Bytes, 10)
}

// FindLoop compares the node's listing with up to depth ancestors and
// returns the first ancestor with an identical signature. Such a node is
// almost certainly a symlink or virtual directory pointing back up the tree.
// Two genuinely identical directories at different levels produce a false
// positive; the heuristic accepts that.
func (t *Tree) FindLoop(id NodeID, depth int) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.get(id)
	if n == nil {
		return NoParent, false
	}

	sig := signatureOf(n)
	if sig.Files == 0 && sig.Dirs == 0 {
		return NoParent, false
	}

	ancestor := t.get(n.Parent)
	for level := 0; ancestor != nil && level < depth; level++ {
		if signatureOf(ancestor) == sig {
			return ancestor.ID, true
		}
		ancestor = t.get(ancestor.Parent)
	}
	return NoParent, false
}
