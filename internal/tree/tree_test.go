package tree

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFragment() *Fragment {
	frag := NewFragment("http://host/a/")
	frag.AddFile("http://host/a/f1.txt", "f1.txt", KnownSize(10))
	frag.AddFile("http://host/a/readme", "", UnknownSize)
	frag.AddDir("http://host/a/b/", "b")
	frag.AddDir("http://host/a/c%20d/", "")
	return frag
}

func TestMergeCreatesChildren(t *testing.T) {
	tr := New("http://host/a/")
	res := tr.Merge(tr.Root(), sampleFragment())

	require.Len(t, res.Pending, 2)
	assert.Len(t, res.Files, 2)
	require.Len(t, res.UnknownFiles, 1)
	assert.Equal(t, "http://host/a/readme", res.UnknownFiles[0].URL)

	root, ok := tr.Node(tr.Root())
	require.True(t, ok)
	assert.True(t, root.Finished)
	assert.Equal(t, "readme", root.Files[1].Name)

	child, ok := tr.Node(res.Pending[1])
	require.True(t, ok)
	assert.Equal(t, "c d", child.Name)
	assert.Equal(t, tr.Root(), child.Parent)
	assert.False(t, child.Finished)
}

func TestMergeIsIdempotent(t *testing.T) {
	tr := New("http://host/a/")
	first := tr.Merge(tr.Root(), sampleFragment())
	before := tr.Totals()

	second := tr.Merge(tr.Root(), sampleFragment())
	after := tr.Totals()

	assert.Equal(t, before, after)
	assert.Empty(t, second.Pending, "re-merge must not create new children")

	root, _ := tr.Node(tr.Root())
	assert.Equal(t, first.Pending, root.Dirs)
}

func TestMergeDropsDuplicateRows(t *testing.T) {
	frag := NewFragment("http://host/")
	frag.AddFile("http://host/x", "x", KnownSize(1))
	frag.AddFile("http://host/x", "x", KnownSize(1))
	frag.AddDir("http://host/d/", "d")
	frag.AddDir("http://host/d/", "d")

	tr := New("http://host/")
	res := tr.Merge(tr.Root(), frag)

	assert.Len(t, res.Pending, 1)
	assert.Len(t, res.Files, 1)
}

func TestMergeCompleteSubdirectories(t *testing.T) {
	frag := NewFragment("http://books/")
	book := frag.AddDir("http://books/book/1/", "Dune")
	book.Complete = true
	book.AddFile("http://books/get/epub/1", "Dune.epub", KnownSize(300))
	frag.AddDir("http://books/other/", "other")

	tr := New("http://books/")
	res := tr.Merge(tr.Root(), frag)

	require.Len(t, res.Completed, 1)
	require.Len(t, res.Pending, 1)
	assert.Len(t, res.Files, 1)

	done, _ := tr.Node(res.Completed[0])
	assert.True(t, done.Finished)
	assert.Equal(t, "Dune", done.Name)

	totals := tr.Totals()
	assert.Equal(t, 2, totals.Directories)
	assert.Equal(t, int64(300), totals.Size)
	assert.Equal(t, 1, totals.Unfinished)
}

func TestSetFileSizeAndTotals(t *testing.T) {
	tr := New("http://host/a/")
	res := tr.Merge(tr.Root(), sampleFragment())

	assert.Equal(t, 1, tr.Totals().UnknownSizes)
	assert.True(t, tr.SetFileSize(res.UnknownFiles[0], 20))
	assert.False(t, tr.SetFileSize(FileRef{Node: tr.Root(), URL: "http://host/a/missing"}, 1))
	assert.False(t, tr.SetFileSize(res.UnknownFiles[0], -1))

	totals := tr.Totals()
	assert.Equal(t, 2, totals.Files)
	assert.Equal(t, int64(30), totals.Size)
	assert.Equal(t, 0, totals.UnknownSizes)
	assert.Equal(t, 2, totals.Directories)
}

func TestMarkErrorClearsChildren(t *testing.T) {
	tr := New("http://host/a/")
	tr.Merge(tr.Root(), sampleFragment())

	tr.MarkError(tr.Root(), true)
	root, _ := tr.Node(tr.Root())
	assert.True(t, root.Error)
	assert.Empty(t, root.Dirs)
	assert.Empty(t, root.Files)
	assert.Equal(t, 1, tr.Totals().Errors)
}

func TestAddDirectoryUnknownParent(t *testing.T) {
	tr := New("http://h/")
	a, ok := tr.addDirectory(tr.Root(), "http://h/a/", "")
	require.True(t, ok)

	n, _ := tr.Node(a)
	assert.Equal(t, tr.Root(), n.Parent)

	_, ok = tr.addDirectory(NodeID(99), "http://h/x/", "")
	assert.False(t, ok)
}

func TestFileURLsSortedAndDeduplicated(t *testing.T) {
	tr := New("http://h/")
	root := NewFragment("http://h/")
	root.AddFile("http://h/z", "z", KnownSize(1))
	root.AddFile("http://h/a", "a", KnownSize(1))
	sub := root.AddDir("http://h/s/", "s")
	sub.Complete = true
	sub.AddFile("http://h/a", "a", KnownSize(1))
	tr.Merge(tr.Root(), root)

	assert.Equal(t, []string{"http://h/a", "http://h/z"}, tr.FileURLs())
}

func TestNameFromURL(t *testing.T) {
	tests := map[string]string{
		"http://host/":             "host",
		"http://host":              "host",
		"http://host/a/b/":         "b",
		"http://host/a/My%20Docs/": "My Docs",
		"ftp://ftp.example.org/x":  "x",
	}
	for in, want := range tests {
		assert.Equal(t, want, NameFromURL(in), in)
	}
}

func TestFileSizeJSON(t *testing.T) {
	out, err := json.Marshal([]FileSize{UnknownSize, KnownSize(0), KnownSize(42)})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, 0, 42]`, string(out))

	var back []FileSize
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, []FileSize{UnknownSize, KnownSize(0), KnownSize(42)}, back)

	assert.Equal(t, UnknownSize, KnownSize(-1))
	assert.Equal(t, "?", UnknownSize.String())
}

func TestPersistRebuildsParents(t *testing.T) {
	tr := New("http://host/a/")
	res := tr.Merge(tr.Root(), sampleFragment())
	tr.Merge(res.Pending[0], &Fragment{
		URL:      "http://host/a/b/",
		ParsedOK: true,
		Files:    []FragmentFile{{URL: "http://host/a/b/f2.txt", Name: "f2.txt"}},
	})
	tr.MarkError(res.Pending[1], false)

	data, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "parent")

	loaded := &Tree{}
	require.NoError(t, json.Unmarshal(data, loaded))

	assert.Equal(t, tr.Totals(), loaded.Totals())
	assert.Equal(t, tr.FileURLs(), loaded.FileURLs())

	root, _ := loaded.Node(loaded.Root())
	require.Len(t, root.Dirs, 2)
	b, _ := loaded.Node(root.Dirs[0])
	assert.Equal(t, loaded.Root(), b.Parent)
	assert.True(t, b.Finished)
	require.Len(t, b.Files, 1)
	assert.False(t, b.Files[0].Size.Known)

	cd, _ := loaded.Node(root.Dirs[1])
	assert.True(t, cd.Error)
}

func TestUnmarshalRejectsEmptyRoot(t *testing.T) {
	assert.Error(t, json.Unmarshal([]byte(`{}`), &Tree{}))
}

func TestConcurrentMerges(t *testing.T) {
	tr := New("http://h/")
	var ids []NodeID
	for i := 0; i < 20; i++ {
		id, _ := tr.addDirectory(tr.Root(), "http://h/d"+string(rune('a'+i))+"/", "")
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id NodeID) {
			defer wg.Done()
			n, _ := tr.Node(id)
			frag := NewFragment(n.URL)
			frag.AddFile(n.URL+"f", "f", KnownSize(1))
			tr.Merge(id, frag)
			_ = tr.Totals()
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 20, tr.Totals().Files)
}
