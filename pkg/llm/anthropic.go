package llm

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reagent-dev/reagent/pkg/schema"
)

type anthropicBackend struct {
	client anthropic.Client
	cfg    Config
}

func newAnthropicBackend(cfg Config) (*anthropicBackend, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicBackend{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (b *anthropicBackend) chat(ctx context.Context, req backendRequest) (backendReply, error) {
	maxTokens := b.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.cfg.Model),
		MaxTokens: int64(maxTokens),
	}
	if b.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(b.cfg.Temperature))
	}

	for _, msg := range req.Messages {
		if msg.Role == schema.RoleSystem {
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content.Plain()})
			continue
		}
		params.Messages = append(params.Messages, toAnthropicMessage(msg))
	}

	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
		switch req.ToolChoice {
		case "required":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case "none":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return backendReply{}, err
	}

	reply := backendReply{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	var content strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if content.Len() > 0 {
				content.WriteString("\n")
			}
			content.WriteString(block.Text)
		case "tool_use":
			reply.ToolCalls = append(reply.ToolCalls, schema.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: schema.Function{
					Name:      block.Name,
					Arguments: json.RawMessage(block.Input),
				},
			})
		}
	}
	reply.Content = content.String()
	return reply, nil
}

func toAnthropicMessage(msg schema.Message) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion

	if msg.Role == schema.RoleTool {
		blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content.Plain(), false))
		return anthropic.NewUserMessage(blocks...)
	}

	if msg.Content.Multi() {
		for _, part := range msg.Content.Parts {
			switch part.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case "image_url":
				if part.ImageURL == nil {
					continue
				}
				mediaType, data, ok := parseDataURL(part.ImageURL.URL)
				if !ok {
					blocks = append(blocks, anthropic.NewTextBlock(part.ImageURL.URL))
					continue
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
			}
		}
	} else if msg.Content.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content.Text))
	}

	if msg.Role == schema.RoleAssistant {
		for _, call := range msg.ToolCalls {
			var input any
			if len(call.Function.Arguments) > 0 {
				_ = json.Unmarshal(call.Function.Arguments, &input)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Function.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func toAnthropicTools(tools []map[string]any) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn, _ := t["function"].(map[string]any)
		if fn == nil {
			continue
		}
		name, _ := fn["name"].(string)
		description, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)

		schemaParam := anthropic.ToolInputSchemaParam{}
		if params != nil {
			if props, ok := params["properties"]; ok {
				schemaParam.Properties = props
			}
			if required, ok := params["required"].([]string); ok {
				schemaParam.Required = required
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: anthropic.String(description),
				InputSchema: schemaParam,
			},
		})
	}
	return out
}

// parseDataURL splits "data:<mime>;base64,<payload>" into its components.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := url[len("data:"):]
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}
