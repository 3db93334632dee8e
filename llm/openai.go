package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIPlanner plans with the OpenAI Chat Completion API.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

// NewOpenAIPlanner creates a new OpenAIPlanner. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAIPlanner(ctx context.Context, modelName string, opts ...option.RequestOption) (*OpenAIPlanner, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, opts...)

	// The &c is required, do not replace and just use c
	c := openai.NewClient(options...)
	return &OpenAIPlanner{client: &c, model: modelName}, nil
}

func (o *OpenAIPlanner) Plan(ctx context.Context, req Request) (*session.Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            convertTurnsToOpenAIMessages(req.System, req.History),
		Tools:               convertDeclarationsToOpenAITools(req.Tools),
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return processOpenAIResponse(resp)
}

// processOpenAIResponse converts an OpenAI response into a planner turn.
func processOpenAIResponse(resp *openai.ChatCompletion) (*session.Turn, error) {
	if len(resp.Choices) == 0 {
		return plannerTurn("", nil), nil
	}

	choice := resp.Choices[0].Message
	var calls []session.Invocation
	for _, tc := range choice.ToolCalls {
		var args map[string]any
		// Arguments are a JSON string; we expect it to be a flat map of arguments.
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
			}
		}
		calls = append(calls, session.Invocation{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return plannerTurn(choice.Content, calls), nil
}

// convertTurnsToOpenAIMessages converts the history to OpenAI chat messages.
// The system prompt goes first as a system message.
func convertTurnsToOpenAIMessages(system string, turns []session.Turn) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(system))
	}

	for _, turn := range turns {
		switch p := turn.Payload.(type) {
		case session.Text:
			if turn.Role == session.RolePlanner {
				chatMessages = append(chatMessages, openai.AssistantMessage(p.Text))
			} else {
				chatMessages = append(chatMessages, openai.UserMessage(p.Text))
			}
		case session.Invocations:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: p.Text,
			}
			for _, call := range p.Calls {
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				argsBytes, err := json.Marshal(args)
				if err != nil {
					// Planner-produced args came from JSON and always marshal.
					argsBytes = []byte("{}")
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      call.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.Observations:
			for _, obs := range p.Results {
				if obs.Source == session.SourceText {
					chatMessages = append(chatMessages, openai.UserMessage(obs.Content))
					continue
				}
				chatMessages = append(chatMessages, openai.ToolMessage(obs.Content, obs.ID))
			}
		}
	}
	return chatMessages
}

// convertDeclarationsToOpenAITools converts tool declarations to OpenAI function tools.
func convertDeclarationsToOpenAITools(decls []tools.Declaration) []openai.ChatCompletionToolUnionParam {
	if len(decls) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, d := range decls {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(d.Parameters),
		}))
	}
	return openAITools
}
