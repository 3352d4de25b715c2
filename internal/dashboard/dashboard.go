package dashboard

import (
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Position selects where a fresh section lands in a body that has no
// markers yet.
type Position string

const (
	Bottom Position = "bottom"
	Top    Position = "top"
)

// Section is everything needed to render one dashboard block.
type Section struct {
	MarkerID    string // usually the run id
	Title       string
	Diagram     Diagram
	CurrentTask string
	Attempt     int
	MaxAttempts int
	LogsURL     string
}

func openMarker(id string) string {
	return fmt.Sprintf("<!-- foundry-workflow-dashboard:%s -->", id)
}

func closeMarker(id string) string {
	return fmt.Sprintf("<!-- /foundry-workflow-dashboard:%s -->", id)
}

// Render produces the complete block, markers included. Rendering is
// deterministic: equal sections produce byte-equal blocks, which is what
// makes the upsert short-circuit work.
func Render(s Section) string {
	var b strings.Builder
	b.WriteString(openMarker(s.MarkerID))
	b.WriteString("\n")
	if s.Title != "" {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
	}
	b.WriteString("```mermaid\n")
	b.WriteString(Mermaid(s.Diagram))
	b.WriteString("```\n\n")

	task := s.CurrentTask
	if task == "" {
		task = "—"
	}
	attempt := "—"
	if s.MaxAttempts > 0 {
		attempt = fmt.Sprintf("%d/%d", s.Attempt, s.MaxAttempts)
	}
	logs := "—"
	if s.LogsURL != "" {
		logs = fmt.Sprintf("[Actions run](%s)", s.LogsURL)
	}
	b.WriteString("| Current task | Attempt | Logs |\n")
	b.WriteString("| --- | --- | --- |\n")
	fmt.Fprintf(&b, "| %s | %s | %s |\n", task, attempt, logs)
	b.WriteString(closeMarker(s.MarkerID))
	return b.String()
}

// Upsert places block (a Render result for markerID) into body. When the
// marker pair exists the region is replaced, everything outside it kept
// byte-exact; otherwise the block is appended at pos. The bool reports
// whether body actually changed, so callers can skip the PATCH.
func Upsert(body, markerID, block string, pos Position) (string, bool) {
	open := openMarker(markerID)
	closing := closeMarker(markerID)

	start := strings.Index(body, open)
	if start >= 0 {
		rest := body[start:]
		endRel := strings.Index(rest, closing)
		if endRel >= 0 {
			end := start + endRel + len(closing)
			current := body[start:end]
			if sum(current) == sum(block) {
				return body, false
			}
			return body[:start] + block + body[end:], true
		}
		// Unterminated marker: treat the region as absent and fall through
		// to an append so the body self-heals on the next render.
	}

	switch pos {
	case Top:
		if body == "" {
			return block, true
		}
		return block + "\n\n" + body, true
	default:
		if body == "" {
			return block, true
		}
		return strings.TrimRight(body, "\n") + "\n\n" + block, true
	}
}

func sum(s string) [32]byte {
	return blake3.Sum256([]byte(s))
}
