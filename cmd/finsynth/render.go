package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"finsynth/internal/types"
)

// =============================================================================
// Report Rendering
// =============================================================================

var levelColors = map[types.RiskLevel]lipgloss.Color{
	types.RiskLow:      lipgloss.Color("42"),  // green
	types.RiskMedium:   lipgloss.Color("220"), // yellow
	types.RiskHigh:     lipgloss.Color("208"), // orange
	types.RiskCritical: lipgloss.Color("196"), // red
}

var (
	statusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func statusLine(status, detail string) string {
	return statusStyle.Render("["+status+"]") + " " + dimStyle.Render(detail)
}

// renderReport glamour-renders the report markdown for the terminal.
func renderReport(r *types.FinalReport) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}

	out, err := renderer.Render(reportMarkdown(r))
	if err != nil {
		return "", err
	}

	badge := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Background(levelColors[r.FinalRiskLevel]).
		Foreground(lipgloss.Color("0")).
		Render(strings.ToUpper(string(r.FinalRiskLevel)))
	return badge + "\n" + out, nil
}

// reportMarkdown serializes the final report as markdown.
func reportMarkdown(r *types.FinalReport) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Risk Assessment: %s\n\n", r.Query)
	fmt.Fprintf(&sb, "| | |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Final risk level | **%s** |\n", r.FinalRiskLevel)
	fmt.Fprintf(&sb, "| Overall confidence | %.2f |\n", r.OverallConfidence)
	fmt.Fprintf(&sb, "| Data freshness | %.2f |\n", r.DataFreshnessScore)
	fmt.Fprintf(&sb, "| Lens agreement | %.2f |\n", r.AgreementScore)
	fmt.Fprintf(&sb, "| Run | `%s` |\n\n", r.CorrelationID)

	sb.WriteString("## Strategic Rationale\n\n")
	sb.WriteString(r.StrategicRationale)
	sb.WriteString("\n\n")

	if len(r.ActionPlan) > 0 {
		sb.WriteString("## Action Plan\n\n")
		for i, item := range r.ActionPlan {
			fmt.Fprintf(&sb, "%d. **[%s]** %s: %s\n", i+1, item.Priority, item.Action, item.Rationale)
		}
		sb.WriteString("\n")
	}

	if len(r.AgentContributions) > 0 {
		sb.WriteString("## Lens Contributions\n\n")
		for _, id := range types.AllLenses {
			if summary, ok := r.AgentContributions[id]; ok {
				fmt.Fprintf(&sb, "- **%s**: %s\n", id, summary)
			}
		}
		sb.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	return sb.String()
}
