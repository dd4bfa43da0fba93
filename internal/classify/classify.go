// Package classify decides whether a log line is an issue worth raising
// and what severity it carries. Matching is a fixed, ordered keyword
// table: higher severity classes are tested first, and within a class the
// first keyword found wins.
package classify

import (
	"strings"

	"github.com/resolvix/collector/internal/model"
)

// keywordClass groups the substrings that map to one severity.
type keywordClass struct {
	Severity model.Severity
	Keywords []string
}

// classes is ordered from most to least severe. Order is load-bearing:
// a line containing both "fatal" and "warning" classifies as critical.
var classes = []keywordClass{
	{model.SeverityCritical, []string{"critical", "fatal", "panic", "emergency"}},
	{model.SeverityError, []string{"error", "exception", "traceback", "segfault"}},
	{model.SeverityHigh, []string{"warn", "warning", "failed", "failure"}},
	{model.SeverityMedium, []string{"denied", "refused", "timeout", "unreachable"}},
	{model.SeverityLow, []string{"notice", "deprecated"}},
}

// Classify checks a line against the keyword table. Returns false when no
// keyword hits; the severity is meaningless in that case.
func Classify(line string) (bool, model.Severity) {
	lower := strings.ToLower(line)
	for _, c := range classes {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return true, c.Severity
			}
		}
	}
	return false, ""
}
