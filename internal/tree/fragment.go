package tree

// Fragment is the parsed listing of one directory before it is merged into
// the tree. Backends return one Fragment per fetched node.
type Fragment struct {
	URL         string
	Name        string
	Description string
	ParserTag   string

	Files          []FragmentFile
	Subdirectories []*Fragment

	// ParsedOK is false when the parser could not classify the listing with
	// confidence; Err then carries the reason.
	ParsedOK bool
	Err      error

	// Complete marks a subdirectory whose own listing is already included
	// (fetch-everything backends). It is merged recursively instead of being
	// queued for another fetch.
	Complete bool
}

// FragmentFile is a file row in a Fragment.
type FragmentFile struct {
	URL         string
	Name        string
	Size        FileSize
	Description string
}

// NewFragment returns an empty, successfully parsed fragment for url.
func NewFragment(url string) *Fragment {
	return &Fragment{URL: url, ParsedOK: true}
}

// AddFile appends a file row.
func (f *Fragment) AddFile(url, name string, size FileSize) {
	f.Files = append(f.Files, FragmentFile{URL: url, Name: name, Size: size})
}

// AddDir appends a subdirectory to be fetched later and returns it.
func (f *Fragment) AddDir(url, name string) *Fragment {
	sub := &Fragment{URL: url, Name: name, ParsedOK: true}
	f.Subdirectories = append(f.Subdirectories, sub)
	return sub
}
