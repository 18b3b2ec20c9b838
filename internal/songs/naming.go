package songs

import (
	"strconv"
	"strings"
	"unicode"
)

// DisplayName picks the name shown for a new song: the trimmed explicit name when
// non-blank, else a name derived from the uploaded filename, else the id.
func DisplayName(explicit *string, originalFilename string, id int64) string {
	if explicit != nil {
		if name := strings.TrimSpace(*explicit); name != "" {
			return name
		}
	}
	if name := nameFromFilename(originalFilename); name != "" {
		return name
	}
	return strconv.FormatInt(id, 10)
}

func nameFromFilename(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return ' '
		}
		return r
	}, base)
	cleaned = strings.TrimSpace(cleaned)

	runes := []rune(cleaned)
	if len(runes) > MaxDerivedNameRunes {
		cleaned = strings.TrimSpace(string(runes[:MaxDerivedNameRunes]))
	}
	return cleaned
}
