package transcribe

import (
	"regexp"
	"strings"
)

// instructionEchoRe matches instruction text that speech models sometimes
// echo back verbatim at the start or end of a transcript.
var instructionEchoRe = regexp.MustCompile(
	`(?i)(please\s+)?transcribe\s+(the\s+following|this)\s+(audio|recording|speech)[^.!?\n]*[.!?:]?`,
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// promptPattern builds a removal pattern for the configured prompt. Word
// boundaries are matched loosely so re-spaced echoes are still caught.
func promptPattern(prompt string) *regexp.Regexp {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(quoted, `\s+`))
}

// CleanText strips echoed instructions, collapses whitespace runs and trims.
// prompt may be nil.
func CleanText(text string, prompt *regexp.Regexp) string {
	if prompt != nil {
		text = prompt.ReplaceAllString(text, " ")
	}
	text = instructionEchoRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
