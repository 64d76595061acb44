package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateBalancedLeavesShortTextIntact(t *testing.T) {
	require.Equal(t, "*short*", truncateBalanced("*short*", 100))
}

func TestTruncateBalancedClosesOpenBoldMarker(t *testing.T) {
	text := "*" + strings.Repeat("a", 20)
	out := truncateBalanced(text, 10)
	require.True(t, strings.HasSuffix(out, "*"), "must close the dangling bold marker: %q", out)
	require.Contains(t, out, "…")
}

func TestTruncateBalancedClosesNestedMarkersInReverseOrder(t *testing.T) {
	text := "*_" + strings.Repeat("a", 20)
	out := truncateBalanced(text, 10)
	// Opened '*' then '_': must close as "..._*" (innermost first).
	require.True(t, strings.HasSuffix(out, "_*"), "got %q", out)
}

func TestTruncateBalancedHandlesFullyClosedMarkersWithoutExtraClose(t *testing.T) {
	text := "*bold*" + strings.Repeat("x", 20)
	out := truncateBalanced(text, 10)
	require.False(t, strings.HasSuffix(out, "**"), "balanced markers before the cut must not be re-closed: %q", out)
}

func TestRenderBodyIncludesCoreFields(t *testing.T) {
	m := MatchSummary{
		JobMatchID:     "jm-1",
		Title:          "Backend Engineer",
		Company:        "Acme",
		Score:          87,
		Location:       "Toronto, ON",
		ApplicationURL: "https://example.com/apply",
		MatchedSkills:  []string{"Go", "Postgres", "Kubernetes", "Redis"},
	}
	body := renderBody(m, 2900)
	require.Contains(t, body, "Backend Engineer")
	require.Contains(t, body, "Acme")
	require.Contains(t, body, "87")
	require.Contains(t, body, "Toronto, ON")
	require.Contains(t, body, "https://example.com/apply")
	require.Contains(t, body, "Go, Postgres, Kubernetes")
	require.NotContains(t, body, "Redis", "only the top 3 matched skills are rendered")
}

func TestRenderBodyFormatsSalaryRange(t *testing.T) {
	min, max := 90000.0, 120000.0
	m := MatchSummary{Title: "x", Company: "y", SalaryMin: &min, SalaryMax: &max, SalaryCurrency: "$"}
	body := renderBody(m, 2900)
	require.Contains(t, body, "$90000 - $120000")
}

func TestRenderBodyTruncatesWhenOverLimit(t *testing.T) {
	m := MatchSummary{
		Title:   strings.Repeat("x", 200),
		Company: "y",
	}
	body := renderBody(m, 50)
	require.LessOrEqual(t, len([]rune(body)), 51) // limit + closing marker slack
}
