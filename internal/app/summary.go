package app

import (
	"fmt"
	"strings"

	"stackctl/internal/color"
	"stackctl/internal/deployerr"
	"stackctl/internal/orchestrator"
)

// printSummary writes a boxed overview of a run to ErrOut.
func (a *Application) printSummary(snap orchestrator.Snapshot, err error) {
	fmt.Fprintln(a.config.ErrOut, renderSummary(snap, err))
}

func renderSummary(snap orchestrator.Snapshot, err error) string {
	var b strings.Builder
	run := snap.Run
	fmt.Fprintf(&b, "%s %s\n", color.TitleStyle.Render(run.Deployment), color.RenderState(string(run.State)))
	fmt.Fprintf(&b, "%s\n", color.MutedStyle.Render(fmt.Sprintf("run %s · %s · %s", run.ID, run.Environment, run.Runtime)))

	for _, rs := range snap.Services {
		where := rs.URL
		if where == "" {
			where = rs.ResolvedAddress
		}
		line := fmt.Sprintf("  %-16s %s", rs.Descriptor.Name, color.RenderState(string(rs.Status)))
		if where != "" {
			line += "  " + where
		}
		b.WriteString(line + "\n")
	}

	if err != nil {
		kind, ok := deployerr.KindOf(err)
		label := "Error"
		if ok {
			label = string(kind)
		}
		fmt.Fprintf(&b, "\n%s (exit %d)\n%s", color.StatusMsgErrorStyle.Render(label), deployerr.ExitCode(err), err.Error())
		return color.ErrorBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
	}
	return color.SummaryBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
