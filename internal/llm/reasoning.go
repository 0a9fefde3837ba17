package llm

import "strings"

// reasoning tags some providers emit inline (e.g. "<thinking>...</thinking>"
// or "<reasoning>...</reasoning>") to show their chain of thought. §4.4
// requires stripping these for display while retaining them verbatim in
// stored history, since a later turn may still depend on the reasoning
// text being present in the conversation the model itself sees.
var reasoningTagPairs = [][2]string{
	{"<thinking>", "</thinking>"},
	{"<reasoning>", "</reasoning>"},
}

// StripReasoningTags removes every reasoning-tagged span from text,
// returning the display-safe remainder. The caller is responsible for
// keeping the original text in the stored Message.
func StripReasoningTags(text string) string {
	out := text
	for _, pair := range reasoningTagPairs {
		out = stripTagPair(out, pair[0], pair[1])
	}
	return strings.TrimSpace(out)
}

func stripTagPair(text, open, close string) string {
	for {
		start := strings.Index(text, open)
		if start < 0 {
			return text
		}
		end := strings.Index(text[start:], close)
		if end < 0 {
			// Unterminated tag: drop from the opening tag to the end
			// rather than leave a dangling fragment visible.
			return text[:start]
		}
		text = text[:start] + text[start+end+len(close):]
	}
}
