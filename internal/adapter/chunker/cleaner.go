package chunker

import (
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`</?[a-zA-Z][\w\-]*(?:\s+[^<>]*?)?/?>`)
	hSpacePattern     = regexp.MustCompile(`[ \t\f\v]+`)
	maxTagStripPasses = 8
)

// Clean strips markup tags, collapses horizontal whitespace and trims the
// text. Line breaks are kept. Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	// removing a tag can expose another one ("<<b>i>"), so strip to a fixpoint
	for i := 0; i < maxTagStripPasses; i++ {
		stripped := tagPattern.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}
	text = hSpacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
