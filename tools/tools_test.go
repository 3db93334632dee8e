package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/shellagent/process"
	"github.com/m4xw311/shellagent/session"
)

// fakeRunner records calls and returns a canned result.
type fakeRunner struct {
	calls  []fakeCall
	result process.Result
}

type fakeCall struct {
	command string
	stdin   *string
	timeout time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, command string, stdin *string, timeout time.Duration) process.Result {
	f.calls = append(f.calls, fakeCall{command: command, stdin: stdin, timeout: timeout})
	return f.result
}

func intPtr(v int) *int { return &v }

func newTestRegistry(t *testing.T, runner *fakeRunner) *ToolRegistry {
	t.Helper()
	r, err := NewToolRegistry(Options{Runner: runner, CommandTimeout: 250 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}
	return r
}

func TestNewToolRegistryRequiresRunner(t *testing.T) {
	if _, err := NewToolRegistry(Options{}); err == nil {
		t.Fatal("expected an error without a runner")
	}
}

func TestDeclarationsAreExactlyTwo(t *testing.T) {
	r := newTestRegistry(t, &fakeRunner{})
	decls := r.Declarations()
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(decls))
	}
	if decls[0].Name != ShellCommandName || decls[1].Name != FinishedName {
		t.Errorf("unexpected declaration order: %s, %s", decls[0].Name, decls[1].Name)
	}
	props := decls[0].Parameters["properties"].(map[string]any)
	if _, ok := props["command"]; !ok {
		t.Error("shellCommand must declare a command parameter")
	}
	if _, ok := props["stdin"]; !ok {
		t.Error("shellCommand must declare an optional stdin parameter")
	}
	if len(decls[1].Parameters["properties"].(map[string]any)) != 0 {
		t.Error("finished must take no parameters")
	}
}

func TestKindOf(t *testing.T) {
	r := newTestRegistry(t, &fakeRunner{})
	tests := map[string]session.Kind{
		ShellCommandName: session.KindRunCommand,
		FinishedName:     session.KindSignalCompletion,
		"read_file":      session.KindUnknown,
	}
	for name, want := range tests {
		if got := r.KindOf(name); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestDispatchRunCommand(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: intPtr(0), Stdout: "hello\n"}}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		ID:      "toolu_1",
		Kind:    session.KindRunCommand,
		Name:    ShellCommandName,
		Command: "echo hello",
		Args:    map[string]any{"command": "echo hello"},
		Source:  session.SourceStructured,
	})

	if out.Terminal {
		t.Error("run-command must not be terminal")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one runner call, got %d", len(runner.calls))
	}
	if runner.calls[0].command != "echo hello" || runner.calls[0].stdin != nil {
		t.Errorf("unexpected runner call %+v", runner.calls[0])
	}
	if runner.calls[0].timeout != 250*time.Millisecond {
		t.Errorf("expected configured timeout, got %v", runner.calls[0].timeout)
	}
	obs := out.Observation
	if obs.ID != "toolu_1" {
		t.Errorf("correlation id lost: %q", obs.ID)
	}
	if obs.ExitCode == nil || *obs.ExitCode != 0 || obs.Stdout != "hello\n" {
		t.Errorf("unexpected observation %+v", obs)
	}
	if obs.Source != session.SourceStructured {
		t.Errorf("expected structured source, got %s", obs.Source)
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(obs.Content), &content); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if content["stdout"] != "hello\n" || content["exitCode"] != float64(0) {
		t.Errorf("unexpected content %s", obs.Content)
	}
}

func TestDispatchPassesStdin(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: intPtr(0)}}
	r := newTestRegistry(t, runner)
	in := "data"

	r.Dispatch(context.Background(), session.Invocation{
		ID:      "t",
		Kind:    session.KindRunCommand,
		Name:    ShellCommandName,
		Command: "cat",
		Stdin:   &in,
		Args:    map[string]any{"command": "cat", "stdin": "data"},
		Source:  session.SourceStructured,
	})

	if len(runner.calls) != 1 || runner.calls[0].stdin == nil || *runner.calls[0].stdin != "data" {
		t.Fatalf("stdin not forwarded: %+v", runner.calls)
	}
}

func TestDispatchTimeoutRendersNullExitCode(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: nil, TimedOut: true}}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		ID: "t", Kind: session.KindRunCommand, Name: ShellCommandName,
		Command: "sleep 30", Args: map[string]any{"command": "sleep 30"},
		Source: session.SourceStructured,
	})

	if out.Observation.ExitCode != nil {
		t.Fatal("expected nil exit code")
	}
	if !strings.Contains(out.Observation.Content, `"exitCode":null`) {
		t.Errorf("expected null exit code in content, got %s", out.Observation.Content)
	}
}

func TestDispatchSignalCompletion(t *testing.T) {
	runner := &fakeRunner{}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		ID: "done", Kind: session.KindSignalCompletion, Name: FinishedName,
		Args: map[string]any{}, Source: session.SourceStructured,
	})

	if !out.Terminal {
		t.Error("finished must be terminal")
	}
	if len(runner.calls) != 0 {
		t.Error("finished must not run a process")
	}
	if out.Observation.ID != "done" {
		t.Errorf("correlation id lost: %q", out.Observation.ID)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	runner := &fakeRunner{}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		ID: "x1", Kind: session.KindUnknown, Name: "read_file",
		Args: map[string]any{"path": "/etc/hosts"}, Source: session.SourceStructured,
	})

	if out.Terminal {
		t.Error("unknown tool must not end the loop")
	}
	if len(runner.calls) != 0 {
		t.Error("unknown tool must not run a process")
	}
	obs := out.Observation
	if obs.ID != "x1" {
		t.Errorf("correlation id lost: %q", obs.ID)
	}
	if obs.Error != "unknown tool: read_file" {
		t.Errorf("unexpected error %q", obs.Error)
	}
	if !obs.IsError() {
		t.Error("unknown tool observation should be an error")
	}
	if !strings.Contains(obs.Content, "unknown tool: read_file") {
		t.Errorf("planner should be told the tool does not exist: %s", obs.Content)
	}
}

func TestDispatchInvalidArguments(t *testing.T) {
	runner := &fakeRunner{}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		ID: "bad", Kind: session.KindRunCommand, Name: ShellCommandName,
		Args: map[string]any{"command": 42}, Source: session.SourceStructured,
	})

	if len(runner.calls) != 0 {
		t.Error("invalid arguments must not reach the runner")
	}
	if !strings.Contains(out.Observation.Error, "invalid arguments") {
		t.Errorf("expected validation error, got %q", out.Observation.Error)
	}
	if out.Observation.ID != "bad" {
		t.Errorf("correlation id lost: %q", out.Observation.ID)
	}
}

func TestDispatchFreeTextSkipsSchema(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: intPtr(0)}}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		ID: "ft", Kind: session.KindRunCommand, Command: "ls", Source: session.SourceText,
	})

	if len(runner.calls) != 1 || runner.calls[0].command != "ls" {
		t.Fatalf("expected free-text command to run, got %+v", runner.calls)
	}
	if out.Observation.Source != session.SourceText {
		t.Errorf("expected text source, got %s", out.Observation.Source)
	}
}

func TestDispatchSynthesizesMissingID(t *testing.T) {
	runner := &fakeRunner{result: process.Result{ExitCode: intPtr(0)}}
	r := newTestRegistry(t, runner)

	out := r.Dispatch(context.Background(), session.Invocation{
		Kind: session.KindRunCommand, Command: "true", Source: session.SourceText,
	})
	if !strings.HasPrefix(out.Observation.ID, "call_") {
		t.Errorf("expected synthesized call id, got %q", out.Observation.ID)
	}
}

func TestRenderTruncatesHeadAndTail(t *testing.T) {
	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	content := Render(session.Observation{ExitCode: intPtr(0), Stdout: long}, 20)

	var decoded observationContent
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(decoded.Stdout, strings.Repeat("a", 10)) {
		t.Errorf("head not kept: %q", decoded.Stdout)
	}
	if !strings.HasSuffix(decoded.Stdout, strings.Repeat("b", 10)) {
		t.Errorf("tail not kept: %q", decoded.Stdout)
	}
	if !strings.Contains(decoded.Stdout, "80 characters removed") {
		t.Errorf("missing truncation marker: %q", decoded.Stdout)
	}
}

func TestRenderTruncatesOnRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", 25) + strings.Repeat("日", 25)
	content := Render(session.Observation{ExitCode: intPtr(0), Stdout: long}, 21)

	var decoded observationContent
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.ContainsRune(decoded.Stdout, utf8.RuneError) {
		t.Errorf("cut split a multi-byte rune: %q", decoded.Stdout)
	}
	if !strings.HasPrefix(decoded.Stdout, strings.Repeat("é", 10)+"\n") {
		t.Errorf("head not kept: %q", decoded.Stdout)
	}
	if !strings.HasSuffix(decoded.Stdout, "\n"+strings.Repeat("日", 11)) {
		t.Errorf("tail not kept: %q", decoded.Stdout)
	}
	if !strings.Contains(decoded.Stdout, "29 characters removed") {
		t.Errorf("marker should count runes: %q", decoded.Stdout)
	}
}

func TestRenderNoLimit(t *testing.T) {
	content := Render(session.Observation{ExitCode: intPtr(1), Stderr: "boom"}, 0)
	want := `{"stdout":"","stderr":"boom","exitCode":1}`
	if content != want {
		t.Errorf("Render() = %s, want %s", content, want)
	}
}
