package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// invoker is the part of the Bedrock runtime client the planner uses.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockPlanner plans with Anthropic models on AWS Bedrock.
type BedrockPlanner struct {
	client  invoker
	modelID string
	region  string
}

// NewBedrockPlanner creates a new BedrockPlanner.
// It requires AWS credentials to be configured in the environment.
func NewBedrockPlanner(ctx context.Context, modelID string) (*BedrockPlanner, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, errors.Wrapf(err, "no AWS credentials available")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		// Custom endpoint, useful for testing
		if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockPlanner{
		client:  client,
		modelID: modelID,
		region:  region,
	}, nil
}

func (b *BedrockPlanner) Plan(ctx context.Context, req Request) (*session.Turn, error) {
	requestBody, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model in %s", b.region)
	}
	return processBedrockResponse(resp.Body)
}

// convertTurnsToAnthropicFormat converts the history to the Anthropic
// messages JSON that Bedrock expects. Same-role neighbours are merged.
func convertTurnsToAnthropicFormat(turns []session.Turn) []map[string]any {
	var messages []map[string]any
	add := func(role string, blocks ...map[string]any) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1]["role"] == role {
			messages[n-1]["content"] = append(messages[n-1]["content"].([]map[string]any), blocks...)
			return
		}
		messages = append(messages, map[string]any{"role": role, "content": blocks})
	}
	textBlock := func(text string) map[string]any {
		return map[string]any{"type": "text", "text": text}
	}

	for _, turn := range turns {
		role := "user"
		if turn.Role == session.RolePlanner {
			role = "assistant"
		}

		switch p := turn.Payload.(type) {
		case session.Text:
			if p.Text != "" {
				add(role, textBlock(p.Text))
			}
		case session.Invocations:
			var blocks []map[string]any
			if p.Text != "" {
				blocks = append(blocks, textBlock(p.Text))
			}
			for _, call := range p.Calls {
				input := call.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    call.ID,
					"name":  call.Name,
					"input": input,
				})
			}
			add(role, blocks...)
		case session.Observations:
			var blocks []map[string]any
			for _, obs := range p.Results {
				if obs.Source == session.SourceText {
					blocks = append(blocks, textBlock(obs.Content))
					continue
				}
				blocks = append(blocks, map[string]any{
					"type":        "tool_result",
					"tool_use_id": obs.ID,
					"content":     obs.Content,
					"is_error":    obs.IsError(),
				})
			}
			add("user", blocks...)
		}
	}
	return messages
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req Request) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        req.MaxTokens,
		"temperature":       req.Temperature,
		"messages":          convertTurnsToAnthropicFormat(req.History),
	}
	if req.System != "" {
		request["system"] = req.System
	}
	if ts := convertDeclarationsToBedrockTools(req.Tools); len(ts) > 0 {
		request["tools"] = ts
	}
	return json.Marshal(request)
}

func convertDeclarationsToBedrockTools(decls []tools.Declaration) []map[string]any {
	var out []map[string]any
	for _, d := range decls {
		schema := d.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"name":         d.Name,
			"description":  d.Description,
			"input_schema": schema,
		})
	}
	return out
}

type bedrockResponse struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	Error any `json:"error"`
}

// processBedrockResponse converts a Bedrock response body into a planner turn.
func processBedrockResponse(body []byte) (*session.Turn, error) {
	var response bedrockResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if response.Error != nil {
		return nil, errors.New("Bedrock API error: %v", response.Error)
	}

	var text string
	var calls []session.Invocation
	for _, item := range response.Content {
		switch item.Type {
		case "text":
			text += item.Text
		case "tool_use":
			calls = append(calls, session.Invocation{ID: item.ID, Name: item.Name, Args: item.Input})
		}
	}
	return plannerTurn(text, calls), nil
}
