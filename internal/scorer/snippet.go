package scorer

import "strings"

const snippetWindow = 150

// Snippet extracts a keyword-in-context window around the first query term
// occurrence in text. Without a match (or terms) it falls back to the start
// of the text. Boundaries are nudged to the nearest space so words are not
// cut, and ellipses mark truncation.
func Snippet(text string, terms []string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	matchPos := -1
	lower := strings.ToLower(text)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if pos := strings.Index(lower, term); pos >= 0 && (matchPos < 0 || pos < matchPos) {
			matchPos = pos
		}
	}
	if matchPos < 0 {
		if len(text) > snippetWindow {
			return text[:trimToSpace(text, snippetWindow)] + "..."
		}
		return text
	}

	half := snippetWindow / 2
	start := matchPos - half
	if start < 0 {
		start = 0
	}
	end := matchPos + half
	if end > len(text) {
		end = len(text)
	}
	if start > 0 {
		if pos := strings.LastIndex(text[:start+1], " "); pos >= 0 {
			start = pos + 1
		}
	}
	if end < len(text) {
		end = trimToSpace(text, end)
	}

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

// trimToSpace moves pos back to the preceding space so a word is not split,
// falling back to pos when the text has no earlier space.
func trimToSpace(text string, pos int) int {
	if pos >= len(text) {
		return len(text)
	}
	if space := strings.LastIndex(text[:pos], " "); space > 0 {
		return space
	}
	return pos
}
