package engine

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Models tuned for roleplay love to leak meta-commentary: *thinks*, stage
// directions, "(thinking: ...)" asides, stalling filler. None of that
// belongs in a chat message.
var thinkingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\*thinks?\*.*?\*`),
	regexp.MustCompile(`(?s)\*.*?\*`),
	regexp.MustCompile(`(?is)\(thinking:.*?\)`),
	regexp.MustCompile(`(?is)\[thinking:.*?\]`),
	regexp.MustCompile(`(?i)Let me think about this\.\.\.`),
	regexp.MustCompile(`(?i)Hmm,?\s*let me see\.\.\.`),
}

var whitespaceRuns = regexp.MustCompile(`\s+`)

// ellipsisSlack is the length margin reserved so the trailing "..." never
// pushes a truncated response over the platform limit.
const ellipsisSlack = 10

// sanitize strips thinking artifacts, collapses whitespace, and enforces
// maxLen. Over-long responses are cut at the last ". " boundary that fits
// within maxLen-ellipsisSlack, or hard-truncated there when no boundary
// fits, then suffixed with an ellipsis. Idempotent on clean input.
func sanitize(response string, maxLen int) string {
	for _, p := range thinkingPatterns {
		response = p.ReplaceAllString(response, "")
	}
	response = strings.TrimSpace(whitespaceRuns.ReplaceAllString(response, " "))

	if maxLen <= ellipsisSlack || utf8.RuneCountInString(response) <= maxLen {
		return response
	}

	budget := maxLen - ellipsisSlack
	var truncated strings.Builder
	length := 0
	for _, sentence := range strings.Split(response, ". ") {
		n := utf8.RuneCountInString(sentence) + 2
		if length+n > budget {
			break
		}
		truncated.WriteString(sentence)
		truncated.WriteString(". ")
		length += n
	}

	if truncated.Len() > 0 {
		return strings.TrimRight(truncated.String(), " ") + "..."
	}
	return string([]rune(response)[:budget]) + "..."
}
