package dispatch

import "testing"

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name            string
		projectPriority string
		labels          []string
		wantName        string
		wantScore       int
	}{
		{"no signal", "", nil, "none", ScoreNone},
		{"project field wins over labels", "High", []string{"priority: low"}, "high", ScoreHigh},
		{"project field with emoji", "🔴 Critical", nil, "critical", ScoreCritical},
		{"unknown project field falls back to labels", "Urgent-ish", []string{"priority:medium"}, "medium", ScoreMedium},
		{"prefixed label with space", "", []string{"priority: high"}, "high", ScoreHigh},
		{"prefixed label without space", "", []string{"priority:low"}, "low", ScoreLow},
		{"bare level label", "", []string{"critical"}, "critical", ScoreCritical},
		{"p-style label", "", []string{"p1"}, "high", ScoreHigh},
		{"best of several labels", "", []string{"p3", "priority: medium", "docs"}, "medium", ScoreMedium},
		{"case insensitive", "", []string{"Priority: HIGH"}, "high", ScoreHigh},
		{"unrelated labels only", "", []string{"bug", "help wanted"}, "none", ScoreNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, score := ResolvePriority(tt.projectPriority, tt.labels)
			if name != tt.wantName || score != tt.wantScore {
				t.Errorf("ResolvePriority(%q, %v) = (%q, %d), want (%q, %d)",
					tt.projectPriority, tt.labels, name, score, tt.wantName, tt.wantScore)
			}
		})
	}
}
