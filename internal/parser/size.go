package parser

import (
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/masahif/opendir/internal/tree"
)

// ParseSize reads a listing size column. Single-letter suffixes ("1.2K",
// "30M") are binary multiples as web servers print them; "-" and blanks are
// unknown.
func ParseSize(s string) tree.FileSize {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return tree.UnknownSize
	}

	last := rune(s[len(s)-1])
	if unicode.IsLetter(last) {
		// "1.2K" -> "1.2KiB", "3 G" -> "3 GiB"
		trimmed := strings.TrimRightFunc(s, unicode.IsLetter)
		suffix := s[len(trimmed):]
		if len(suffix) == 1 && strings.ContainsRune("KMGTPE", unicode.ToUpper(last)) {
			s = trimmed + strings.ToUpper(suffix) + "iB"
		}
	}

	n, err := humanize.ParseBytes(s)
	if err != nil || n > 1<<62 {
		return tree.UnknownSize
	}
	return tree.KnownSize(int64(n))
}
