package agents

import (
	"regexp"
	"strings"
)

// uploadDemandPatterns is the fixed set of stock phrases the calm guard
// strips from model output. The assistant proceeds with available data
// instead of nagging for uploads.
var uploadDemandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)please upload[^.]*\.`),
	regexp.MustCompile(`(?i)upload (your )?(file|dataset)[^.]*\.`),
	regexp.MustCompile(`(?i)i need (the )?(file|dataset)[^.]*\.`),
	regexp.MustCompile(`(?i)cannot proceed[^.]*\.`),
}

var (
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern = regexp.MustCompile(`[ \t]{2,}`)
)

// CalmGuard deterministically strips upload-demand phrases from model text
// and collapses the whitespace runs the removals leave behind.
func CalmGuard(text string) string {
	out := text
	for _, pattern := range uploadDemandPatterns {
		out = strings.TrimSpace(pattern.ReplaceAllString(out, ""))
	}
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	out = spaceRunPattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// uploadTip is appended at most once per reply, only when the user asked
// for analysis and the session has no files.
const uploadTip = "\n\nTip: Use \"Upload Files\" in the sidebar when ready - I'll pick them up automatically next turn."
