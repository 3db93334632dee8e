package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
)

// AnthropicPlanner plans with the Anthropic Messages API.
type AnthropicPlanner struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicPlanner creates a new AnthropicPlanner.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicPlanner(ctx context.Context, modelName string, opts ...option.RequestOption) (*AnthropicPlanner, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &AnthropicPlanner{
		client: &client,
		model:  modelName,
	}, nil
}

func (a *AnthropicPlanner) Plan(ctx context.Context, req Request) (*session.Turn, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    convertTurnsToAnthropicMessages(req.History),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, toolParam := range convertDeclarationsToAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return processAnthropicResponse(resp)
}

// convertTurnsToAnthropicMessages converts the history to Anthropic messages.
// Consecutive turns that map to the same role are merged into one message, so
// the observations of a multi-call turn become a single user message of
// tool_result blocks.
func convertTurnsToAnthropicMessages(turns []session.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	add := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, turn := range turns {
		role := anthropic.MessageParamRoleUser
		if turn.Role == session.RolePlanner {
			role = anthropic.MessageParamRoleAssistant
		}

		switch p := turn.Payload.(type) {
		case session.Text:
			if p.Text != "" {
				add(role, anthropic.NewTextBlock(p.Text))
			}
		case session.Invocations:
			var blocks []anthropic.ContentBlockParamUnion
			if p.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
			for _, call := range p.Calls {
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: args,
					}})
			}
			add(role, blocks...)
		case session.Observations:
			var blocks []anthropic.ContentBlockParamUnion
			for _, obs := range p.Results {
				if obs.Source == session.SourceText {
					blocks = append(blocks, anthropic.NewTextBlock(obs.Content))
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(obs.ID, obs.Content, obs.IsError()))
			}
			add(anthropic.MessageParamRoleUser, blocks...)
		}
	}
	return messages
}

// convertDeclarationsToAnthropicTools converts tool declarations to
// Anthropic's tool format.
func convertDeclarationsToAnthropicTools(decls []tools.Declaration) []anthropic.ToolParam {
	if len(decls) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, d := range decls {
		properties, required := schemaParts(d.Parameters)
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic response into a planner turn.
func processAnthropicResponse(resp *anthropic.Message) (*session.Turn, error) {
	var text string
	var calls []session.Invocation

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			text += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
				}
			}
			calls = append(calls, session.Invocation{ID: c.ID, Name: c.Name, Args: args})
		}
	}
	return plannerTurn(text, calls), nil
}

// schemaParts splits a JSON schema object into its properties and required
// list.
func schemaParts(params map[string]any) (map[string]any, []string) {
	properties, _ := params["properties"].(map[string]any)
	if properties == nil {
		properties = map[string]any{}
	}
	var required []string
	switch r := params["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return properties, required
}
