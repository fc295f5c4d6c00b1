package stepview

import (
	"fmt"
	"strings"
	"time"

	"setupwiz/internal/adapter/tui/theme"
	"setupwiz/internal/domain"
	"setupwiz/internal/usecase/resume"
	"setupwiz/internal/usecase/wizard"
)

// Rejection renders why Next did not move. Silent rejections render as "".
func Rejection(r *wizard.Rejection) string {
	if r == nil || r.Silent {
		return ""
	}
	style, sym := theme.TextError, theme.SymbolError
	if r.Soft || r.Kind == wizard.FailUnavailable {
		style, sym = theme.TextWarning, theme.SymbolWarning
	}
	var sb strings.Builder
	sb.WriteString(style.Render(sym + " " + r.Reason))
	for _, d := range r.Details {
		sb.WriteString("\n  " + theme.SymbolBullet + " " + d)
	}
	if r.Soft {
		sb.WriteString("\n" + theme.TextMuted.Render("You can continue anyway by confirming the override."))
	}
	return theme.Panel.Render(sb.String())
}

// Report renders a prerequisite report as PASS/WARN/FAIL lines. Missing
// tools fail; unmet resource minimums only warn because the user may
// override them.
func Report(rep domain.PrerequisiteReport) string {
	var lines []string
	tool := func(label string, st domain.ToolStatus) {
		if st.Available {
			lines = append(lines, pass(fmt.Sprintf("%s (%s) %s", label, st.Name, st.Version)))
			return
		}
		lines = append(lines, fail(fmt.Sprintf("%s (%s): %s", label, st.Name, st.Detail)))
	}
	tool("container runtime", rep.Runtime)
	tool("compose", rep.Compose)

	if rep.MinCPUs > 0 && rep.CPUs < rep.MinCPUs {
		lines = append(lines, warn(fmt.Sprintf("CPUs: %d (minimum %d)", rep.CPUs, rep.MinCPUs)))
	} else {
		lines = append(lines, pass(fmt.Sprintf("CPUs: %d", rep.CPUs)))
	}
	if rep.MinMemoryMB > 0 && rep.MemoryMB < rep.MinMemoryMB {
		lines = append(lines, warn(fmt.Sprintf("memory: %d MB (minimum %d MB)", rep.MemoryMB, rep.MinMemoryMB)))
	} else {
		lines = append(lines, pass(fmt.Sprintf("memory: %d MB", rep.MemoryMB)))
	}
	for _, p := range rep.Ports {
		if p.Available {
			lines = append(lines, pass(fmt.Sprintf("port %d free", p.Port)))
		} else {
			lines = append(lines, warn(fmt.Sprintf("port %d in use", p.Port)))
		}
	}
	return strings.Join(lines, "\n")
}

func pass(s string) string { return theme.TextSuccess.Render("PASS") + "  " + s }
func warn(s string) string { return theme.TextWarning.Render("WARN") + "  " + s }
func fail(s string) string { return theme.TextError.Render("FAIL") + "  " + s }

// History renders version history, newest first.
func History(entries []domain.VersionEntry) string {
	if len(entries) == 0 {
		return theme.TextMuted.Render("No versions recorded yet.")
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		marker := "  "
		if e.Current {
			marker = theme.SymbolCurrent + " "
		}
		fmt.Fprintf(&sb, "%s%s  %-16s %s", marker, theme.Dim.Render(e.ID),
			e.Metadata.Action, theme.TextMuted.Render(stamp(e.Metadata.Timestamp)))
		if e.Metadata.Description != "" {
			sb.WriteString("  " + e.Metadata.Description)
		}
	}
	return sb.String()
}

// Checkpoints renders the checkpoint list, newest first.
func Checkpoints(cps []domain.Checkpoint, latest string) string {
	if len(cps) == 0 {
		return theme.TextMuted.Render("No checkpoints yet.")
	}
	var sb strings.Builder
	for i, cp := range cps {
		if i > 0 {
			sb.WriteByte('\n')
		}
		marker := "  "
		if cp.ID == latest {
			marker = theme.SymbolCurrent + " "
		}
		fmt.Fprintf(&sb, "%s%s  %-18s %s", marker, theme.Dim.Render(cp.ID), cp.Stage,
			theme.TextMuted.Render(stamp(cp.Timestamp)))
	}
	return sb.String()
}

// Operations renders the operation log, newest first.
func Operations(recs []domain.OperationRecord) string {
	if len(recs) == 0 {
		return theme.TextMuted.Render("No operations recorded.")
	}
	var sb strings.Builder
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		style := theme.TextInfo
		switch r.Status {
		case domain.OpCompleted:
			style = theme.TextSuccess
		case domain.OpFailed:
			style = theme.TextError
		case domain.OpCancelled, domain.OpRolledBack:
			style = theme.TextWarning
		}
		fmt.Fprintf(&sb, "%s  %-12s %-24s %d/%d", theme.Dim.Render(r.ID), style.Render(string(r.Status)), r.Title, r.Step, r.Steps)
		if r.Message != "" {
			sb.WriteString("  " + theme.TextMuted.Render(r.Message))
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// ResumeOffer renders the prompt shown when a previous session was found.
func ResumeOffer(o resume.Offer, graph *wizard.Graph) string {
	title := fmt.Sprintf("step %d", o.State.CurrentStep)
	if s, ok := graph.At(o.State.CurrentStep); ok {
		title = s.Title
	}
	body := fmt.Sprintf("%s A previous setup stopped at %s.", theme.SymbolInfo, theme.Bold.Render(title))
	if o.State.Phase != domain.PhaseNotStarted {
		body += fmt.Sprintf("\n  Installation phase: %s", o.State.Phase)
	}
	if h := o.State.HoursSinceActivity; h > 0 {
		body += "\n  " + theme.TextMuted.Render("Last activity "+ago(h)+".")
	}
	return theme.Panel.Render(body)
}

func ago(hours float64) string {
	d := time.Duration(hours * float64(time.Hour)).Round(time.Minute)
	if d < time.Minute {
		return "moments ago"
	}
	return d.String() + " ago"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
