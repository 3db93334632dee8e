package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/option"
)

// GeminiPlanner plans with the Google Gemini API.
type GeminiPlanner struct {
	client    *genai.Client
	modelName string
}

// NewGeminiPlanner creates a new GeminiPlanner.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiPlanner(ctx context.Context, modelName string, opts ...option.ClientOption) (*GeminiPlanner, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiPlanner{client: client, modelName: modelName}, nil
}

func (g *GeminiPlanner) Plan(ctx context.Context, req Request) (*session.Turn, error) {
	// A fresh model per call keeps the planner free of shared mutable state.
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(float32(req.Temperature))
	model.SetMaxOutputTokens(int32(req.MaxTokens))
	model.Tools = convertDeclarationsToGeminiTools(req.Tools)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	history := convertTurnsToGeminiContent(req.History)
	if len(history) == 0 {
		return nil, errors.New("cannot plan from an empty history")
	}

	// The last content is the new prompt.
	last := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertTurnsToGeminiContent converts the history to Gemini contents.
// Gemini function responses are keyed by function name, so names are looked
// up from the invocation IDs seen earlier in the history.
func convertTurnsToGeminiContent(turns []session.Turn) []*genai.Content {
	var contents []*genai.Content
	names := make(map[string]string)
	add := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, turn := range turns {
		role := "user"
		if turn.Role == session.RolePlanner {
			role = "model"
		}

		switch p := turn.Payload.(type) {
		case session.Text:
			if p.Text != "" {
				add(role, genai.Text(p.Text))
			}
		case session.Invocations:
			var parts []genai.Part
			if p.Text != "" {
				parts = append(parts, genai.Text(p.Text))
			}
			for _, call := range p.Calls {
				names[call.ID] = call.Name
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, genai.FunctionCall{Name: call.Name, Args: args})
			}
			add(role, parts...)
		case session.Observations:
			var parts []genai.Part
			for _, obs := range p.Results {
				name, ok := names[obs.ID]
				if obs.Source == session.SourceText || !ok {
					parts = append(parts, genai.Text(obs.Content))
					continue
				}
				parts = append(parts, genai.FunctionResponse{
					Name: name,
					Response: map[string]any{
						"stdout":   obs.Stdout,
						"stderr":   obs.Stderr,
						"exitCode": exitCodeValue(obs.ExitCode),
						"error":    obs.Error,
						"content":  obs.Content,
					},
				})
			}
			add("user", parts...)
		}
	}
	return contents
}

func exitCodeValue(code *int) any {
	if code == nil {
		return nil
	}
	return *code
}

// convertDeclarationsToGeminiTools converts tool declarations to Gemini's
// FunctionDeclaration format.
func convertDeclarationsToGeminiTools(decls []tools.Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, d := range decls {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  convertSchemaToGemini(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchemaToGemini maps a flat JSON schema object onto genai.Schema.
// Only the shapes our tools declare are handled. Gemini rejects an object
// schema without properties, so nil is returned for those.
func convertSchemaToGemini(params map[string]any) *genai.Schema {
	properties, required := schemaParts(params)
	if len(properties) == 0 {
		return nil
	}
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(properties)),
		Required:   required,
	}
	for name, raw := range properties {
		prop, _ := raw.(map[string]any)
		desc, _ := prop["description"].(string)
		schema.Properties[name] = &genai.Schema{Type: geminiType(prop["type"]), Description: desc}
	}
	return schema
}

func geminiType(t any) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

// processGeminiResponse converts a Gemini response into a planner turn.
// Gemini function calls carry no ID, so one is minted here; the history then
// correlates the observation back to the call.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*session.Turn, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	var text string
	var calls []session.Invocation
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text += string(v)
		case genai.FunctionCall:
			calls = append(calls, session.Invocation{
				ID:   "call_" + ulid.Make().String(),
				Name: v.Name,
				Args: v.Args,
			})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return plannerTurn(text, calls), nil
}
