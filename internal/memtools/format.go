package memtools

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/memgraph/internal/memory"
)

// Detail levels for read-heavy tools.
//   - summary: IDs and metadata only
//   - standard: truncated content previews
//   - full: complete content
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// previewLength is the content length shown at the standard detail level.
const previewLength = 300

// DetailLevelValues returns the enum values for MCP tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level string, defaulting to "standard"
// for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// preview renders content for the given detail level.
func preview(content, level string) string {
	switch level {
	case DetailSummary:
		return ""
	case DetailFull:
		return content
	default:
		return memory.Truncate(content, previewLength)
	}
}

// writeMemory appends one memory line (and its preview) to b.
func writeMemory(b *strings.Builder, idx int, m memory.Memory, extra, level string) {
	fmt.Fprintf(b, "[%d] #%d (%s/%s)", idx, m.ID, m.Type, m.Layer)
	if m.ProjectID != nil {
		fmt.Fprintf(b, " project: %s", *m.ProjectID)
	}
	if len(m.Tags) > 0 {
		fmt.Fprintf(b, " tags: %s", strings.Join(m.Tags, ","))
	}
	if extra != "" {
		fmt.Fprintf(b, " %s", extra)
	}
	b.WriteString("\n")
	if p := preview(m.Content, level); p != "" {
		fmt.Fprintf(b, "    %s\n", p)
	}
}

// NavigationHint returns a one-line footer when results are capped by a limit.
func NavigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\nShowing %d of %d. %s", showing, total, hint)
	}
	return fmt.Sprintf("\nShowing %d of %d.", showing, total)
}

// EstimateTokens approximates the token count for a text string using the
// chars/4 heuristic. Returns at least 1 for non-empty strings.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	if n/4 == 0 {
		return 1
	}
	return n / 4
}

// TokenFooter returns a one-line footer with the estimated token count.
func TokenFooter(estimatedTokens int) string {
	return fmt.Sprintf("\n~%d tokens", estimatedTokens)
}
