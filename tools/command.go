package tools

import (
	"context"
	"time"

	"github.com/m4xw311/shellagent/process"
	"github.com/m4xw311/shellagent/session"
)

const (
	ShellCommandName = "shellCommand"
	FinishedName     = "finished"
)

// CommandRunner executes a shell command; *process.Runner implements it.
type CommandRunner interface {
	Run(ctx context.Context, command string, stdin *string, timeout time.Duration) process.Result
}

// ShellCommandTool implements the tool for running shell commands.
type ShellCommandTool struct {
	runner  CommandRunner
	timeout time.Duration
}

// NewShellCommandTool returns a shell tool with a fixed per-command timeout.
func NewShellCommandTool(runner CommandRunner, timeout time.Duration) *ShellCommandTool {
	return &ShellCommandTool{runner: runner, timeout: timeout}
}

func (t *ShellCommandTool) Name() string       { return ShellCommandName }
func (t *ShellCommandTool) Kind() session.Kind { return session.KindRunCommand }
func (t *ShellCommandTool) Description() string {
	return "Execute a shell command and return the result"
}

func (t *ShellCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"stdin": map[string]any{
				"type":        "string",
				"description": "Optional input written to the command's standard input",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellCommandTool) Execute(ctx context.Context, inv session.Invocation) Outcome {
	res := t.runner.Run(ctx, inv.Command, inv.Stdin, t.timeout)
	return Outcome{Observation: session.Observation{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}}
}

// FinishedTool signals that the task is complete. It runs nothing.
type FinishedTool struct{}

func (t *FinishedTool) Name() string       { return FinishedName }
func (t *FinishedTool) Kind() session.Kind { return session.KindSignalCompletion }
func (t *FinishedTool) Description() string {
	return "Call this tool when the task is complete to end the conversation"
}

func (t *FinishedTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *FinishedTool) Execute(ctx context.Context, inv session.Invocation) Outcome {
	code := 0
	return Outcome{
		Observation: session.Observation{ExitCode: &code, Content: `{"status":"finished"}`},
		Terminal:    true,
	}
}
