package tree

import (
	"encoding/json"
	"errors"
)

// jsonNode is the persisted shape of a directory. Parent links are not
// stored; they are rebuilt on load.
type jsonNode struct {
	URL            string      `json:"url"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	ParserTag      string      `json:"parser,omitempty"`
	Finished       bool        `json:"finished"`
	Error          bool        `json:"error"`
	Files          []jsonFile  `json:"files"`
	Subdirectories []*jsonNode `json:"subdirectories"`
}

type jsonFile struct {
	URL         string   `json:"url"`
	Name        string   `json:"file_name"`
	Size        FileSize `json:"file_size"`
	Description string   `json:"description,omitempty"`
}

// MarshalJSON writes the reachable tree as one nested document.
func (t *Tree) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var build func(n *DirectoryNode) *jsonNode
	build = func(n *DirectoryNode) *jsonNode {
		out := &jsonNode{
			URL:            n.URL,
			Name:           n.Name,
			Description:    n.Description,
			ParserTag:      n.ParserTag,
			Finished:       n.Finished,
			Error:          n.Error,
			Files:          make([]jsonFile, 0, len(n.Files)),
			Subdirectories: make([]*jsonNode, 0, len(n.Dirs)),
		}
		for _, f := range n.Files {
			out.Files = append(out.Files, jsonFile(f))
		}
		for _, child := range n.Dirs {
			out.Subdirectories = append(out.Subdirectories, build(t.nodes[child]))
		}
		return out
	}

	return json.Marshal(build(t.nodes[0]))
}

// UnmarshalJSON replaces the tree with a persisted document, rebuilding
// parent links in a single top-down pass.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var root jsonNode
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.URL == "" {
		return errors.New("tree: root node has no url")
	}

	var nodes []*DirectoryNode
	var add func(jn *jsonNode, parent NodeID) NodeID
	add = func(jn *jsonNode, parent NodeID) NodeID {
		id := NodeID(len(nodes))
		n := &DirectoryNode{
			ID:          id,
			Parent:      parent,
			URL:         jn.URL,
			Name:        jn.Name,
			Description: jn.Description,
			ParserTag:   jn.ParserTag,
			Finished:    jn.Finished,
			Error:       jn.Error,
		}
		nodes = append(nodes, n)

		for _, f := range jn.Files {
			n.Files = append(n.Files, FileEntry(f))
		}
		for _, sub := range jn.Subdirectories {
			if sub == nil {
				continue
			}
			n.Dirs = append(n.Dirs, add(sub, id))
		}
		return id
	}
	add(&root, NoParent)

	t.mu.Lock()
	t.nodes = nodes
	t.mu.Unlock()
	return nil
}
