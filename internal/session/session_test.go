package session

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/opendir/internal/tree"
)

func populated(t *testing.T) *Session {
	t.Helper()

	s := New("http://host/a/")
	frag := tree.NewFragment("http://host/a/")
	frag.AddFile("http://host/a/f1.txt", "f1.txt", tree.KnownSize(10))
	frag.AddFile("http://host/a/f0.txt", "f0.txt", tree.UnknownSize)
	frag.AddDir("http://host/a/b/", "b")
	res := s.Tree.Merge(s.Tree.Root(), frag)
	require.Len(t, res.Pending, 1)

	sub := tree.NewFragment("http://host/a/b/")
	sub.AddFile("http://host/a/b/f2.txt", "f2.txt", tree.KnownSize(20))
	s.Tree.Merge(res.Pending[0], sub)

	s.MarkProcessed("http://host/a/")
	s.MarkProcessed("http://host/a/b/")
	s.RecordRequest(200)
	s.RecordRequest(200)
	s.RecordRequest(404)
	s.RecordRequest(0)
	s.RecordTraffic(2048)
	s.RecordError("http://host/a/z/")
	s.RecordSkipped()
	s.Params.Set(ParamBackend, "http")
	s.Params.Set("_cookie", "ephemeral")
	return s
}

func TestMarkProcessedAtMostOnce(t *testing.T) {
	s := New("http://host/")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkProcessed("http://host/x/") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, s.IsProcessed("http://host/x/"))
	assert.EqualValues(t, 1, s.ProcessedCount())
}

func TestCounters(t *testing.T) {
	s := populated(t)

	assert.EqualValues(t, 4, s.Requests())
	assert.EqualValues(t, 2048, s.Traffic())
	assert.EqualValues(t, 1, s.Errors())
	assert.EqualValues(t, 1, s.Skipped())
	assert.Equal(t, map[int]int{200: 2, 404: 1}, s.StatusCodes())
	assert.Equal(t, []string{"http://host/a/z/"}, s.ErrorURLs())
}

func TestParams(t *testing.T) {
	p := NewParams()
	assert.True(t, p.SetIfAbsent(ParamUserAgent, "curl/8.5.0"))
	assert.False(t, p.SetIfAbsent(ParamUserAgent, "other"))

	v, ok := p.Get(ParamUserAgent)
	require.True(t, ok)
	assert.Equal(t, "curl/8.5.0", v)

	p.Set("_tmp", "x")
	_, ok = p.Get("_tmp")
	assert.True(t, ok)
	assert.Equal(t, map[string]string{ParamUserAgent: "curl/8.5.0"}, p.Snapshot())
}

func TestSummary(t *testing.T) {
	s := populated(t)
	s.Finish()

	sum := s.Summary()
	assert.Equal(t, 1, sum.TotalDirectories)
	assert.Equal(t, 3, sum.TotalFiles)
	assert.EqualValues(t, 30, sum.TotalSize)
	assert.Equal(t, 1, sum.UnknownSizes)
	assert.GreaterOrEqual(t, sum.Duration.Nanoseconds(), int64(0))

	var buf bytes.Buffer
	n, err := sum.WriteTo(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, buf.Len(), n)

	out := buf.String()
	assert.Contains(t, out, "Files:         3")
	assert.Contains(t, out, "30 B (30 bytes)")
	assert.Contains(t, out, "  404: 1")
	assert.Contains(t, out, "  http://host/a/z/")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := populated(t)
	s.Finish()

	path := filepath.Join(t.TempDir(), "out", "session.json")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.RootURL, loaded.RootURL)
	assert.Equal(t, s.Tree.Totals(), loaded.Tree.Totals())
	assert.Equal(t, s.StatusCodes(), loaded.StatusCodes())
	assert.Equal(t, s.Requests(), loaded.Requests())
	assert.Equal(t, s.ErrorURLs(), loaded.ErrorURLs())
	assert.True(t, loaded.IsProcessed("http://host/a/b/"))

	backend, ok := loaded.Params.Get(ParamBackend)
	require.True(t, ok)
	assert.Equal(t, "http", backend)
	_, ok = loaded.Params.Get("_cookie")
	assert.False(t, ok)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 99, "root": {"url": "http://x/"}}`))
	assert.Error(t, err)
}

func TestWriteURLList(t *testing.T) {
	s := populated(t)

	var buf bytes.Buffer
	require.NoError(t, s.WriteURLList(&buf))
	assert.Equal(t,
		"http://host/a/b/f2.txt\nhttp://host/a/f0.txt\nhttp://host/a/f1.txt\n",
		buf.String())
}
