package agents

import "regexp"

// analysisIntentPattern is the documented heuristic for classifying an
// utterance as a data-analysis request: any term denoting analysis, a
// dataset, or a file.
var analysisIntentPattern = regexp.MustCompile(`(?i)\b(analy[sz]e|dataset|data|file|csv|table)\b`)

// AnalysisIntent reports whether the text asks for data analysis. The
// pattern set is a stated contract; routing and the upload tip both key
// off this one predicate.
func AnalysisIntent(text string) bool {
	return analysisIntentPattern.MatchString(text)
}
