package notify

import (
	"fmt"
	"strings"
)

// markerPairs are the mrkdwn emphasis delimiters this renderer emits:
// bold, italic, strikethrough, and inline code are all symmetric
// single-character markers rather than distinct open/close tags.
var markerPairs = []string{"*", "_", "~", "`"}

// truncateBalanced cuts text to limit runes (including a trailing ellipsis),
// then appends a closer for every marker left open by the cut so the
// rendered message never leaves a dangling "*bold text with no closing"
// fragment. The result can therefore exceed limit by the number of closers.
func truncateBalanced(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	const ellipsis = "…"
	budget := limit - len([]rune(ellipsis))
	if budget < 0 {
		budget = 0
	}

	cut := runes[:budget]
	stack := openMarkers(string(cut))

	var b strings.Builder
	b.WriteString(string(cut))
	b.WriteString(ellipsis)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString(stack[i])
	}
	return b.String()
}

// openMarkers walks s and returns the stack of markers left open at the
// end: a marker closes the innermost open marker when it is the same
// character and opens a new one otherwise, so the stack at EOF is what must
// be closed to balance the text.
func openMarkers(s string) []string {
	var stack []string
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := string(runes[i])
		for _, m := range markerPairs {
			if r != m {
				continue
			}
			if len(stack) > 0 && stack[len(stack)-1] == m {
				stack = stack[:len(stack)-1]
			} else {
				stack = append(stack, m)
			}
			break
		}
	}
	return stack
}

// MatchSummary is everything the renderer needs for one job match: title,
// company, score, location, salary range if present, application URL, and
// matched skills.
type MatchSummary struct {
	JobMatchID     string
	Title          string
	Company        string
	Score          int
	Location       string
	SalaryMin      *float64
	SalaryMax      *float64
	SalaryCurrency string
	ApplicationURL string
	MatchedSkills  []string
}

// renderBody renders one match as mrkdwn text, then balances it to fit
// within limit.
func renderBody(m MatchSummary, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* at *%s*\n", m.Title, m.Company)
	fmt.Fprintf(&b, "Match score: *%d*\n", m.Score)
	if m.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", m.Location)
	}
	if salary := formatSalary(m); salary != "" {
		fmt.Fprintf(&b, "Salary: %s\n", salary)
	}
	if skills := topSkills(m.MatchedSkills, 3); len(skills) > 0 {
		fmt.Fprintf(&b, "Matched skills: _%s_\n", strings.Join(skills, ", "))
	}
	if m.ApplicationURL != "" {
		fmt.Fprintf(&b, "<%s|Apply>", m.ApplicationURL)
	}
	return truncateBalanced(b.String(), limit)
}

func topSkills(skills []string, n int) []string {
	if len(skills) <= n {
		return skills
	}
	return skills[:n]
}

func formatSalary(m MatchSummary) string {
	switch {
	case m.SalaryMin != nil && m.SalaryMax != nil:
		return fmt.Sprintf("%s%.0f - %s%.0f", m.SalaryCurrency, *m.SalaryMin, m.SalaryCurrency, *m.SalaryMax)
	case m.SalaryMin != nil:
		return fmt.Sprintf("%s%.0f+", m.SalaryCurrency, *m.SalaryMin)
	case m.SalaryMax != nil:
		return fmt.Sprintf("up to %s%.0f", m.SalaryCurrency, *m.SalaryMax)
	default:
		return ""
	}
}
