package grader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Guardrails clamp the total score a model reports into a valid range.
// Models occasionally award 0/2 or 2.5/2 against a rubric whose scale
// forbids it; the clamp rewrites only the Total row, leaving the rest
// of the feedback untouched.
type Guardrails struct {
	Min   float64
	Max   float64
	OutOf float64
}

// DefaultGuardrails matches the standard two-point grading scale.
func DefaultGuardrails() Guardrails {
	return Guardrails{Min: 1.0, Max: 2.0, OutOf: 2.0}
}

var scoreRe = regexp.MustCompile(`(\d+(?:\.\d+)?)/(\d+(?:\.\d+)?)`)

// totalRowRe matches a markdown table row whose label cell mentions
// Total, e.g. `| **Total** | **2/2** |`.
var totalRowRe = regexp.MustCompile(`(?i)(\|[^|\n]*total[^|\n]*\|\s*)\*{0,2}\d+(?:\.\d+)?/\d+(?:\.\d+)?\*{0,2}(\s*\|)`)

// Apply clamps the feedback's total score into [Min, Max] when the
// scale matches OutOf. Feedback without a parseable total, or on a
// different scale, passes through unchanged.
func (g Guardrails) Apply(feedback string) string {
	if g.Max <= 0 || g.Max < g.Min {
		return feedback // zero value disables the clamp
	}
	score, outOf, ok := parseTotal(feedback)
	if !ok || outOf <= 0 {
		return feedback
	}
	if g.OutOf > 0 && abs(outOf-g.OutOf) > 0.01 {
		return feedback
	}

	clamped := score
	if clamped < g.Min {
		clamped = g.Min
	}
	if clamped > g.Max {
		clamped = g.Max
	}
	if clamped == score {
		return feedback
	}
	return replaceTotal(feedback, clamped, outOf)
}

// parseTotal extracts (score, outOf) from the feedback: the first
// x/y on a line mentioning "total", else the last x/y anywhere.
func parseTotal(text string) (float64, float64, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(strings.ToLower(line), "total") {
			continue
		}
		if m := scoreRe.FindStringSubmatch(line); m != nil {
			return mustFloat(m[1]), mustFloat(m[2]), true
		}
	}
	all := scoreRe.FindAllStringSubmatch(text, -1)
	if len(all) > 0 {
		m := all[len(all)-1]
		return mustFloat(m[1]), mustFloat(m[2]), true
	}
	return 0, 0, false
}

// replaceTotal rewrites the first Total table row's score cell,
// keeping bold markers when the original cell had them.
func replaceTotal(text string, score, outOf float64) string {
	loc := totalRowRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	matched := text[loc[0]:loc[1]]
	prefix := text[loc[2]:loc[3]]
	suffix := text[loc[4]:loc[5]]

	cell := fmt.Sprintf("%.1f/%.0f", score, outOf)
	if strings.Contains(matched, "**") {
		cell = "**" + cell + "**"
	}
	return text[:loc[0]] + prefix + cell + suffix + text[loc[1]:]
}

func mustFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
