package interpreter

import (
	"reflect"
	"strings"
	"testing"

	"github.com/m4xw311/shellagent/session"
)

func resolve(name string) session.Kind {
	switch name {
	case "shellCommand":
		return session.KindRunCommand
	case "finished":
		return session.KindSignalCompletion
	default:
		return session.KindUnknown
	}
}

func plannerText(text string) session.Turn {
	return session.NewText(session.RolePlanner, text)
}

func plannerCalls(text string, calls ...session.Invocation) session.Turn {
	return session.Turn{Role: session.RolePlanner, Payload: session.Invocations{Text: text, Calls: calls}}
}

func TestStructuredRunCommandOnly(t *testing.T) {
	s := NewStructured(resolve)
	got := s.Interpret(plannerCalls("", session.Invocation{
		ID: "toolu_1", Name: "shellCommand", Args: map[string]any{"command": "ls -la"},
	}))

	if got.Done {
		t.Error("run-command turn must not be done")
	}
	if len(got.Invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(got.Invocations))
	}
	inv := got.Invocations[0]
	if inv.Kind != session.KindRunCommand || inv.Command != "ls -la" || inv.ID != "toolu_1" {
		t.Errorf("unexpected invocation %+v", inv)
	}
	if inv.Stdin != nil {
		t.Errorf("expected no stdin, got %q", *inv.Stdin)
	}
	if inv.Source != session.SourceStructured {
		t.Errorf("expected structured source, got %s", inv.Source)
	}
}

func TestStructuredStdin(t *testing.T) {
	s := NewStructured(resolve)
	got := s.Interpret(plannerCalls("", session.Invocation{
		ID: "a", Name: "shellCommand", Args: map[string]any{"command": "cat", "stdin": "x\ny"},
	}))
	if got.Invocations[0].Stdin == nil || *got.Invocations[0].Stdin != "x\ny" {
		t.Errorf("stdin not extracted: %+v", got.Invocations[0])
	}
}

func TestStructuredCompletion(t *testing.T) {
	s := NewStructured(resolve)
	got := s.Interpret(plannerCalls("All done.", session.Invocation{ID: "f", Name: "finished", Args: map[string]any{}}))
	if !got.Done {
		t.Error("finished call should complete the task")
	}
	if got.Text != "All done." {
		t.Errorf("text should be surfaced, got %q", got.Text)
	}
}

func TestStructuredTextIsNotParsed(t *testing.T) {
	s := NewStructured(resolve)
	got := s.Interpret(plannerText("REASONING: look\nCOMMAND: ls\n**TASK FINISHED**"))
	if len(got.Invocations) != 0 {
		t.Errorf("text blocks must not be parsed for commands: %+v", got.Invocations)
	}
	if got.Done {
		t.Error("text sentinel must not complete a structured conversation")
	}
}

func TestStructuredUnknownTool(t *testing.T) {
	s := NewStructured(resolve)
	got := s.Interpret(plannerCalls("", session.Invocation{ID: "u", Name: "browse", Args: map[string]any{"url": "x"}}))
	if len(got.Invocations) != 1 || got.Invocations[0].Kind != session.KindUnknown {
		t.Fatalf("expected one unknown invocation, got %+v", got.Invocations)
	}
	if got.Invocations[0].Name != "browse" {
		t.Errorf("unknown tool name must be kept, got %q", got.Invocations[0].Name)
	}
}

func TestStructuredPreservesOrder(t *testing.T) {
	s := NewStructured(resolve)
	got := s.Interpret(plannerCalls("",
		session.Invocation{ID: "1", Name: "shellCommand", Args: map[string]any{"command": "mkdir x"}},
		session.Invocation{ID: "2", Name: "shellCommand", Args: map[string]any{"command": "ls x"}},
	))
	if len(got.Invocations) != 2 || got.Invocations[0].ID != "1" || got.Invocations[1].ID != "2" {
		t.Errorf("invocation order not preserved: %+v", got.Invocations)
	}
}

func TestStructuredSynthesizesMissingIDs(t *testing.T) {
	s := NewStructured(resolve)
	turn := plannerCalls("",
		session.Invocation{Name: "shellCommand", Args: map[string]any{"command": "ls"}},
		session.Invocation{Name: "shellCommand", Args: map[string]any{"command": "ls"}},
		session.Invocation{ID: "kept", Name: "finished", Args: map[string]any{}},
	)

	first := s.Interpret(turn)
	second := s.Interpret(turn)
	a, b := first.Invocations[0].ID, first.Invocations[1].ID
	if !strings.HasPrefix(a, "call_") || !strings.HasPrefix(b, "call_") {
		t.Fatalf("expected synthesized ids, got %q and %q", a, b)
	}
	if a == b {
		t.Error("identical calls at different positions must get distinct ids")
	}
	if first.Invocations[2].ID != "kept" {
		t.Errorf("planner id overwritten: %q", first.Invocations[2].ID)
	}
	if second.Invocations[0].ID != a || second.Invocations[1].ID != b {
		t.Error("synthesized ids are not stable across interpretations")
	}
	if turn.Payload.(session.Invocations).Calls[0].ID != "" {
		t.Error("input turn was modified")
	}
}

func TestFreeTextCommandWithoutStdin(t *testing.T) {
	f := NewFreeText("**TASK FINISHED**")
	got := f.Interpret(plannerText("REASONING: need a listing\nCOMMAND: ls\n"))

	if got.Done {
		t.Error("turn without sentinel must not be done")
	}
	if len(got.Invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(got.Invocations))
	}
	inv := got.Invocations[0]
	if inv.Command != "ls" {
		t.Errorf("expected command ls, got %q", inv.Command)
	}
	if inv.Stdin != nil {
		t.Errorf("expected nil stdin, got %q", *inv.Stdin)
	}
	if inv.Kind != session.KindRunCommand || inv.Source != session.SourceText {
		t.Errorf("unexpected invocation %+v", inv)
	}
}

func TestFreeTextCommandWithStdin(t *testing.T) {
	f := NewFreeText("**TASK FINISHED**")
	got := f.Interpret(plannerText("REASONING: write a file\nCOMMAND: cat > notes.txt\nSTDIN:\nline one\nline two\n"))

	if len(got.Invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(got.Invocations))
	}
	inv := got.Invocations[0]
	if inv.Command != "cat > notes.txt" {
		t.Errorf("unexpected command %q", inv.Command)
	}
	if inv.Stdin == nil || *inv.Stdin != "line one\nline two" {
		t.Errorf("unexpected stdin %v", inv.Stdin)
	}
}

func TestFreeTextMultilineCommand(t *testing.T) {
	inv, ok := ParseCommand("COMMAND: for f in *; do\n  echo $f\ndone")
	if !ok {
		t.Fatal("expected a command")
	}
	if inv.Command != "for f in *; do\n  echo $f\ndone" {
		t.Errorf("multi-line command mangled: %q", inv.Command)
	}
}

func TestFreeTextNoCommand(t *testing.T) {
	f := NewFreeText("**TASK FINISHED**")
	for _, text := range []string{"I am thinking about it.", "COMMAND:   \n", ""} {
		got := f.Interpret(plannerText(text))
		if len(got.Invocations) != 0 || got.Done {
			t.Errorf("%q: expected no action, got %+v", text, got)
		}
	}
}

func TestFreeTextCompletionAnywhere(t *testing.T) {
	f := NewFreeText("**TASK FINISHED**")
	texts := []string{
		"**TASK FINISHED**",
		"Everything is in place. **TASK FINISHED** Goodbye.",
		"REASONING: verified\nCOMMAND: ls\n\nDone: **TASK FINISHED**",
		"**TASK FINISHED**\nCOMMAND: rm -rf build",
	}
	for _, text := range texts {
		got := f.Interpret(plannerText(text))
		if !got.Done {
			t.Errorf("%q: expected completion", text)
		}
		if len(got.Invocations) != 0 {
			t.Errorf("%q: completion must not dispatch commands", text)
		}
	}
}

func TestFreeTextReadsInvocationTurnText(t *testing.T) {
	f := NewFreeText("DONE!")
	got := f.Interpret(plannerCalls("COMMAND: pwd"))
	if len(got.Invocations) != 1 || got.Invocations[0].Command != "pwd" {
		t.Errorf("expected pwd from text block, got %+v", got.Invocations)
	}
}

func TestInterpretIsIdempotent(t *testing.T) {
	turn := plannerText("REASONING: x\nCOMMAND: echo hi\nSTDIN: data")
	f := NewFreeText("**TASK FINISHED**")
	first := f.Interpret(turn)
	second := f.Interpret(turn)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-parsing changed the result:\n%+v\n%+v", first, second)
	}

	s := NewStructured(resolve)
	call := plannerCalls("", session.Invocation{ID: "1", Name: "shellCommand", Args: map[string]any{"command": "ls"}})
	if !reflect.DeepEqual(s.Interpret(call), s.Interpret(call)) {
		t.Error("structured interpretation is not deterministic")
	}
}

func TestParseReasoning(t *testing.T) {
	got := ParseReasoning("REASONING: check the disk\nCOMMAND: df -h")
	if got != "check the disk" {
		t.Errorf("unexpected reasoning %q", got)
	}
	if ParseReasoning("COMMAND: ls") != "" {
		t.Error("expected empty reasoning")
	}
}

func TestStrategies(t *testing.T) {
	var _ Interpreter = NewStructured(resolve)
	var _ Interpreter = NewFreeText("x")

	if !NewStructured(resolve).DeclaresTools() {
		t.Error("structured strategy must declare tools")
	}
	if NewFreeText("x").DeclaresTools() {
		t.Error("free-text strategy must not declare tools")
	}
}
