package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

var (
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New()
	stageColor   = color.New(color.BgBlue, color.FgHiWhite)
	dimColor     = color.New(color.FgHiBlack)
)

func disableColor() { color.NoColor = true }

func kindColor(k api.Kind) *color.Color {
	switch k {
	case api.KindError:
		return errorColor
	case api.KindWarning:
		return warnColor
	case api.KindSuccess:
		return successColor
	default:
		return infoColor
	}
}

// printer renders a run on the terminal as it happens.
type printer struct {
	w io.Writer
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

func (p *printer) StateChanged(_ string, _, to api.RunState) {
	switch to {
	case api.StateCopyingScript:
		fmt.Fprintln(p.w, dimColor.Sprint("Copying deployment script..."))
	case api.StateExecuting:
		fmt.Fprintln(p.w, dimColor.Sprint("Running deployment script..."))
	}
}

func (p *printer) EventClassified(_ string, ev api.OutputEvent) {
	p.event(ev)
}

func (p *printer) event(ev api.OutputEvent) {
	fmt.Fprintln(p.w, kindColor(ev.Kind).Sprint(ev.RawText))
}

func (p *printer) RunFinished(o *api.DeploymentOutcome) {
	fmt.Fprintln(p.w)
	if o.Succeeded {
		fmt.Fprintln(p.w, successColor.Sprintf("✓ %s (VM %d) deployed in %s", o.Hostname, o.VMID, o.Duration().Round(time.Second)))
	} else {
		fmt.Fprintln(p.w, errorColor.Sprintf("✗ %s (VM %d) failed in state %s", o.Hostname, o.VMID, o.State))
	}
	for _, line := range strings.Split(o.FinalMessage, "\n") {
		fmt.Fprintf(p.w, "  %s\n", line)
	}
	for _, w := range o.Warnings {
		fmt.Fprintln(p.w, warnColor.Sprintf("  warning: %v", w))
	}
	fmt.Fprintln(p.w, dimColor.Sprintf("  run %s", o.RunID))
}

// stage is the StageTracker callback.
func (p *printer) stage(stage api.Stage, progress int) {
	if stage == api.StageNone {
		return
	}
	fmt.Fprintln(p.w, stageColor.Sprintf(" %s %3d%% ", stage, progress))
}
