package terminal

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/shellagent/agent"
	"github.com/m4xw311/shellagent/session"
)

// Verbosity controls how much of each tool call is printed. Command output
// itself is always echoed live by the process runner.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

// Terminal renders loop events to a console.
type Terminal struct {
	out       io.Writer
	verbosity Verbosity

	plannerStyle lipgloss.Style
	commandStyle lipgloss.Style
	successStyle lipgloss.Style
	failStyle    lipgloss.Style
	warnStyle    lipgloss.Style
	dimStyle     lipgloss.Style
}

// New creates a Terminal writing to out.
func New(out io.Writer, verbosity Verbosity) *Terminal {
	r := lipgloss.NewRenderer(out)
	return &Terminal{
		out:          out,
		verbosity:    verbosity,
		plannerStyle: r.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		commandStyle: r.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
		successStyle: r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		failStyle:    r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		warnStyle:    r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		dimStyle:     r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
	}
}

// Callbacks returns loop callbacks bound to this terminal.
func (t *Terminal) Callbacks() agent.Callbacks {
	return agent.Callbacks{
		OnPlannerText: t.plannerText,
		OnInvocation:  t.invocation,
		OnObservation: t.observation,
		OnWarning:     t.Warning,
		OnDone:        t.done,
	}
}

// Warning prints a non-fatal problem.
func (t *Terminal) Warning(msg string) {
	fmt.Fprintln(t.out, t.warnStyle.Render("Warning: "+msg))
}

// Error prints a fatal problem.
func (t *Terminal) Error(err error) {
	fmt.Fprintln(t.out, t.failStyle.Render("Error: "+err.Error()))
}

func (t *Terminal) plannerText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	fmt.Fprintf(t.out, "%s %s\n", t.plannerStyle.Render("Planner:"), text)
}

func (t *Terminal) invocation(inv session.Invocation) {
	if t.verbosity == VerbosityNone || inv.Kind != session.KindRunCommand {
		return
	}
	fmt.Fprintln(t.out, t.commandStyle.Render("$ "+inv.Command))
	if t.verbosity == VerbosityAll && inv.Stdin != nil {
		fmt.Fprintln(t.out, t.dimStyle.Render("stdin: "+*inv.Stdin))
	}
}

func (t *Terminal) observation(inv session.Invocation, obs session.Observation) {
	if t.verbosity == VerbosityNone || obs.Error != "" {
		// Dispatch errors already arrive as warnings.
		return
	}
	switch {
	case obs.ExitCode == nil:
		fmt.Fprintln(t.out, t.failStyle.Render("killed (timeout)"))
	case *obs.ExitCode == 0:
		fmt.Fprintln(t.out, t.successStyle.Render("exit 0"))
	default:
		fmt.Fprintln(t.out, t.failStyle.Render(fmt.Sprintf("exit %d", *obs.ExitCode)))
	}
	if t.verbosity == VerbosityAll {
		fmt.Fprintln(t.out, t.dimStyle.Render(obs.Content))
	}
}

func (t *Terminal) done() {
	fmt.Fprintln(t.out, t.successStyle.Render("Task finished."))
}
