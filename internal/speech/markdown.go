package speech

import "regexp"

var (
	boldStars       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderscores = regexp.MustCompile(`__(.+?)__`)
	italicStar      = regexp.MustCompile(`\*([^*\n]+?)\*`)
	italicUnder     = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_\n]+?)_($|[^\p{L}\p{N}_])`)
)

// StripMarkdown removes bold and italic emphasis markers so synthesized
// speech does not read them aloud. Underscores inside identifiers such as
// snake_case are kept.
func StripMarkdown(text string) string {
	text = boldStars.ReplaceAllString(text, "$1")
	text = boldUnderscores.ReplaceAllString(text, "$1")
	text = italicStar.ReplaceAllString(text, "$1")
	// Adjacent matches share a boundary character, so repeat until stable.
	for {
		next := italicUnder.ReplaceAllString(text, "$1$2$3")
		if next == text {
			return text
		}
		text = next
	}
}
