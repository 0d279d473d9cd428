package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileSize is a byte length that may not be known yet. Unknown sizes are
// distinct from zero and serialise as JSON null.
type FileSize struct {
	Bytes int64
	Known bool
}

// UnknownSize is the size of a file that still needs resolution.
var UnknownSize = FileSize{}

// KnownSize returns a resolved size. Negative input is treated as unknown.
func KnownSize(n int64) FileSize {
	if n < 0 {
		return UnknownSize
	}
	return FileSize{Bytes: n, Known: true}
}

func (s FileSize) String() string {
	if !s.Known {
		return "?"
	}
	return fmt.Sprintf("%d", s.Bytes)
}

func (s FileSize) MarshalJSON() ([]byte, error) {
	if !s.Known {
		return []byte("null"), nil
	}
	return json.Marshal(s.Bytes)
}

func (s *FileSize) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = UnknownSize
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("file size: %w", err)
	}
	*s = KnownSize(n)
	return nil
}
