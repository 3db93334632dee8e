package llm

import (
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
)

func intPtr(v int) *int { return &v }

// structuredHistory is a conversation with one multi-call planner turn and
// its two observations.
func structuredHistory() []session.Turn {
	return []session.Turn{
		session.NewText(session.RoleInitiator, "list the files"),
		{Role: session.RolePlanner, Payload: session.Invocations{
			Text: "Listing.",
			Calls: []session.Invocation{
				{ID: "toolu_1", Name: tools.ShellCommandName, Args: map[string]any{"command": "ls"}},
				{ID: "toolu_2", Name: tools.ShellCommandName, Args: map[string]any{"command": "false"}},
			},
		}},
		session.NewObservation(session.Observation{
			ID: "toolu_1", ExitCode: intPtr(0), Stdout: "a\n", Source: session.SourceStructured,
			Content: `{"stdout":"a\n","stderr":"","exitCode":0}`,
		}),
		session.NewObservation(session.Observation{
			ID: "toolu_2", ExitCode: intPtr(1), Source: session.SourceStructured,
			Content: `{"stdout":"","stderr":"","exitCode":1}`,
		}),
	}
}

func testDeclarations() []tools.Declaration {
	return []tools.Declaration{
		{
			Name:        tools.ShellCommandName,
			Description: "run a command",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "description": "the command"},
					"stdin":   map[string]any{"type": "string"},
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        tools.FinishedName,
			Description: "done",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}
