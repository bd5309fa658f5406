package oracle

import "strings"

// Tag sigils route tagged messages deterministically, without a reasoning
// call. A message like "$$ buy milk" becomes a todo with clean text
// "buy milk".
var tagTable = map[string]string{
	"!!": "activity",
	"..": "note",
	"$$": "todo",
	"++": "chat",
	"--": "save",
	"::": "command",
}

// Word aliases accepted in place of sigils: "todo buy milk".
var tagAliases = map[string]string{
	"act":   "activity",
	"note":  "note",
	"todo":  "todo",
	"to-do": "todo",
	"chat":  "chat",
	"save":  "save",
	"cmd":   "command",
}

// ClassifyTag resolves a leading tag sigil or alias in a message.
// Returns the projection type, the message with the tag stripped, and
// whether a tag was present. Untagged messages take the reasoning path.
//
// Sigils glue to the text ("!!glued"); aliases need a following space,
// except a bare alias on its own, which tags an empty message.
func ClassifyTag(content string) (projType, cleanText string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) >= 2 {
		if t, found := tagTable[trimmed[:2]]; found {
			return t, strings.TrimSpace(trimmed[2:]), true
		}
	}

	if t, aliased := tagAliases[strings.ToLower(trimmed)]; aliased {
		return t, "", true
	}
	word, rest, found := strings.Cut(trimmed, " ")
	if found {
		if t, aliased := tagAliases[strings.ToLower(word)]; aliased {
			return t, strings.TrimSpace(rest), true
		}
	}
	return "", trimmed, false
}
