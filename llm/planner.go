package llm

import (
	"context"
	"strings"

	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
)

// Planner produces the next planner turn from the conversation so far.
type Planner interface {
	Plan(ctx context.Context, req Request) (*session.Turn, error)
}

// Request is everything a planner backend needs for one call.
type Request struct {
	History []session.Turn
	System  string
	// Tools is empty when the interpreter reads commands out of prose.
	Tools       []tools.Declaration
	Temperature float64
	MaxTokens   int
}

// New returns the planner backend registered under provider. Credentials are
// read from the environment; a missing credential is an error here, before
// any conversation starts.
func New(ctx context.Context, provider, model string) (Planner, error) {
	switch strings.ToLower(provider) {
	case "anthropic":
		return NewAnthropicPlanner(ctx, model)
	case "openai":
		return NewOpenAIPlanner(ctx, model)
	case "gemini":
		return NewGeminiPlanner(ctx, model)
	case "bedrock":
		return NewBedrockPlanner(ctx, model)
	case "mock":
		return NewMockPlanner(), nil
	default:
		return nil, errors.New("unknown llm provider '%s'", provider)
	}
}

// plannerTurn builds the turn returned by a backend. Calls without any text
// or invocations still yield an empty text turn so the loop can nudge.
func plannerTurn(text string, calls []session.Invocation) *session.Turn {
	if len(calls) == 0 {
		t := session.NewText(session.RolePlanner, text)
		return &t
	}
	return &session.Turn{
		Role:    session.RolePlanner,
		Payload: session.Invocations{Text: text, Calls: calls},
	}
}
