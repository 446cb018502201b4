package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	listItemRe   = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)]|[a-zA-Z][.)])\s+`)
	inlineMathRe = regexp.MustCompile(`\$[^$]+\$`)
	sentenceEnd  = regexp.MustCompile(`[.!?]+["')\]]*\s+`)
)

var definitionMarkers = []string{"definition", "def.", "def:", "defn", "define:"}

// DetectType classifies content. Checks run in order: list, heading,
// equation, definition; anything else is a paragraph.
func DetectType(content string) ChunkType {
	text := strings.TrimSpace(content)
	if text == "" {
		return TypeParagraph
	}
	lines := nonEmptyLines(text)

	isList := true
	for _, l := range lines {
		if !listItemRe.MatchString(l) {
			isList = false
			break
		}
	}
	if isList {
		return TypeList
	}
	if len(lines) <= 2 && utf8.RuneCountInString(text) < 100 {
		return TypeHeading
	}
	if inlineMathRe.MatchString(text) || (strings.Contains(text, "=") && strings.Contains(text, "(")) {
		return TypeEquation
	}
	lower := strings.ToLower(text)
	for _, m := range definitionMarkers {
		if strings.HasPrefix(lower, m) {
			return TypeDefinition
		}
	}
	if len(lines) <= 3 && strings.Contains(text, ": ") {
		return TypeDefinition
	}
	return TypeParagraph
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// splitSentences cuts text after terminal punctuation followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func sentenceCount(text string) int { return len(splitSentences(text)) }

func wordCount(text string) int { return len(strings.Fields(text)) }
