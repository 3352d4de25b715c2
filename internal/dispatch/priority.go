package dispatch

import "strings"

// Priority levels map to scores 0..4; absence of any priority signal is 4.
const (
	ScoreCritical = 0
	ScoreHigh     = 1
	ScoreMedium   = 2
	ScoreLow      = 3
	ScoreNone     = 4
)

var priorityScores = map[string]int{
	"critical": ScoreCritical,
	"high":     ScoreHigh,
	"medium":   ScoreMedium,
	"low":      ScoreLow,
	"p0":       ScoreCritical,
	"p1":       ScoreHigh,
	"p2":       ScoreMedium,
	"p3":       ScoreLow,
}

var priorityNames = map[int]string{
	ScoreCritical: "critical",
	ScoreHigh:     "high",
	ScoreMedium:   "medium",
	ScoreLow:      "low",
	ScoreNone:     "none",
}

// normalizePriorityToken strips the emoji decorations project boards attach
// to priority option names.
func normalizePriorityToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, emoji := range []string{"🔴", "🟠", "🟡", "🟢", "🔵", "⚪", "⚫"} {
		s = strings.ReplaceAll(s, emoji, "")
	}
	return strings.TrimSpace(s)
}

// ResolvePriority derives (name, score) from the project priority field when
// present, else from labels. Label forms: "priority:<level>" (with or
// without a space), bare level names, and p0..p3.
func ResolvePriority(projectPriority string, labels []string) (string, int) {
	if tok := normalizePriorityToken(projectPriority); tok != "" {
		if score, ok := priorityScores[tok]; ok {
			return priorityNames[score], score
		}
	}
	best := ScoreNone
	for _, raw := range labels {
		tok := normalizePriorityToken(raw)
		if rest, ok := strings.CutPrefix(tok, "priority:"); ok {
			tok = strings.TrimSpace(rest)
		}
		if score, ok := priorityScores[tok]; ok && score < best {
			best = score
		}
	}
	return priorityNames[best], best
}
