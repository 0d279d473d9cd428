package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopFragment returns the same listing for any directory: one file and a
// subdirectory "x/" below the given URL.
func loopFragment(u string) *Fragment {
	frag := NewFragment(u)
	frag.AddFile(u+"a.txt", "a.txt", KnownSize(1))
	frag.AddDir(u+"x/", "x")
	return frag
}

func TestFindLoopMatchesParent(t *testing.T) {
	tr := New("http://h/r/")
	res := tr.Merge(tr.Root(), loopFragment("http://h/r/"))
	require.Len(t, res.Pending, 1)

	child := res.Pending[0]
	tr.Merge(child, loopFragment("http://h/r/x/"))

	ancestor, found := tr.FindLoop(child, LoopCheckDepth)
	assert.True(t, found)
	assert.Equal(t, tr.Root(), ancestor)
}

func TestFindLoopRespectsDepth(t *testing.T) {
	tr := New("http://h/")
	res := tr.Merge(tr.Root(), loopFragment("http://h/"))

	// Three intermediate levels with distinct listings.
	id := res.Pending[0]
	url := "http://h/x/"
	for i := 0; i < 3; i++ {
		frag := NewFragment(url)
		frag.AddFile(url+"unique", "unique", KnownSize(int64(i)))
		frag.AddDir(url+"x/", "x")
		id = tr.Merge(id, frag).Pending[0]
		url += "x/"
	}
	tr.Merge(id, loopFragment(url))

	_, found := tr.FindLoop(id, 3)
	assert.False(t, found, "root is four levels up")

	ancestor, found := tr.FindLoop(id, 4)
	assert.True(t, found)
	assert.Equal(t, tr.Root(), ancestor)
}

func TestFindLoopIgnoresDifferentSizes(t *testing.T) {
	tr := New("http://h/")
	res := tr.Merge(tr.Root(), loopFragment("http://h/"))

	frag := NewFragment("http://h/x/")
	frag.AddFile("http://h/x/a.txt", "a.txt", KnownSize(2))
	frag.AddDir("http://h/x/x/", "x")
	tr.Merge(res.Pending[0], frag)

	_, found := tr.FindLoop(res.Pending[0], LoopCheckDepth)
	assert.False(t, found)
}

func TestFindLoopSkipsEmptyListing(t *testing.T) {
	tr := New("http://h/")
	res := tr.Merge(tr.Root(), loopFragment("http://h/"))
	tr.Merge(res.Pending[0], NewFragment("http://h/x/"))

	_, found := tr.FindLoop(res.Pending[0], LoopCheckDepth)
	assert.False(t, found)
}

func TestSignatureOrderIndependent(t *testing.T) {
	a := New("http://h/")
	fa := NewFragment("http://h/")
	fa.AddFile("http://h/1", "1", KnownSize(1))
	fa.AddFile("http://h/2", "2", UnknownSize)
	a.Merge(a.Root(), fa)

	b := New("http://h/")
	fb := NewFragment("http://h/")
	fb.AddFile("http://h/2", "2", UnknownSize)
	fb.AddFile("http://h/1", "1", KnownSize(1))
	b.Merge(b.Root(), fb)

	sa := signatureOf(a.get(a.Root()))
	sb := signatureOf(b.get(b.Root()))
	assert.Equal(t, sa, sb)
	assert.Equal(t, 2, sa.Files)
}
