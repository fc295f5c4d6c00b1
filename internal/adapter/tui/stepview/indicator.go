// Package stepview renders the wizard's progress and recovery screens.
package stepview

import (
	"fmt"
	"strings"

	"setupwiz/internal/adapter/tui/theme"
	"setupwiz/internal/domain"
	"setupwiz/internal/usecase/wizard"
)

// Indicator displays progress as "Step 3/6: Configure" with a progress bar
// and a trail of step titles. Numbering follows the visible steps of the
// session's navigation path, so hidden steps never leave gaps.
type Indicator struct {
	graph *wizard.Graph
	width int
}

// NewIndicator creates an indicator for graph.
func NewIndicator(graph *wizard.Graph) *Indicator {
	return &Indicator{graph: graph, width: 60}
}

// SetWidth sets the rendering width.
func (in *Indicator) SetWidth(w int) {
	in.width = theme.Clamp(w, 20, theme.MaxContentWidth)
}

// View renders the indicator for sess.
func (in *Indicator) View(sess domain.Session) string {
	visible := in.graph.VisibleSteps(sess.NavigationPath)
	num := in.graph.DisplayNumber(sess.NavigationPath, sess.CurrentStep)
	if len(visible) == 0 || num == 0 {
		return ""
	}
	current := visible[num-1]

	header := theme.WizardStepActive.Render(
		fmt.Sprintf("Step %d/%d: %s", num, len(visible), current.Title),
	)

	barWidth := max(in.width-6, 10) // leave room for the percentage
	pct := float64(num-1) / float64(len(visible))
	if sess.InstallationComplete && current.ID == domain.StepComplete {
		pct = 1
	}
	filled := min(int(pct*float64(barWidth)), barWidth)
	bar := theme.ProgressFull.Render(strings.Repeat("█", filled)) +
		theme.ProgressEmpty.Render(strings.Repeat("░", barWidth-filled))
	pctStr := theme.TextMuted.Render(fmt.Sprintf(" %d%%", int(pct*100)))

	return header + "\n" + bar + pctStr + "\n" + in.trail(visible, num)
}

func (in *Indicator) trail(visible []domain.Step, num int) string {
	parts := make([]string, 0, len(visible))
	for i, s := range visible {
		switch {
		case i+1 < num:
			parts = append(parts, theme.WizardStepDone.Render(theme.SymbolSuccess+" "+s.Title))
		case i+1 == num:
			parts = append(parts, theme.WizardStepActive.Render(theme.SymbolCurrent+" "+s.Title))
		default:
			parts = append(parts, theme.WizardStepPending.Render(s.Title))
		}
	}
	return strings.Join(parts, theme.TextMuted.Render(" "+theme.SymbolArrowR+" "))
}
