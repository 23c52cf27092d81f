package plan

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLen bounds workspace names; truncation backs up to the last hyphen
// so names stay readable.
const maxSlugLen = 50

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives a kebab-case workspace slug from free text. Unicode is
// folded to ASCII, apostrophes are stripped so contractions stay readable,
// and every other non-alphanumeric run collapses to a single hyphen.
// Empty input (or input that reduces to nothing) returns "".
func Slugify(text string) string {
	if folded, _, err := transform.String(asciiFold, text); err == nil {
		text = folded
	}

	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == '\'', r == '’':
			// stripped, not hyphenated
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	return truncateSlug(slug, maxSlugLen)
}

// truncateSlug bounds the slug, cutting at the last hyphen that keeps at
// least the leading token intact.
func truncateSlug(slug string, limit int) string {
	if len(slug) <= limit {
		return slug
	}
	cut := strings.LastIndex(slug[:limit+1], "-")
	if cut <= 0 {
		// No hyphen boundary to back up to; hard-truncate.
		cut = limit
	}
	return strings.TrimRight(slug[:cut], "-")
}

// FallbackSlug names a workspace when the task text reduces to nothing.
func FallbackSlug(now time.Time) string {
	return "debug-bug-" + now.Format("20060102-150405")
}
