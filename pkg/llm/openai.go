package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reagent-dev/reagent/pkg/schema"
)

type openaiBackend struct {
	client *openai.Client
	cfg    Config
}

func newOpenAIBackend(cfg Config) (*openaiBackend, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openaiBackend{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (b *openaiBackend) chat(ctx context.Context, req backendRequest) (backendReply, error) {
	request := openai.ChatCompletionRequest{
		Model:       b.cfg.Model,
		Messages:    toOpenAIMessages(req.Messages, b.cfg.VisionDetails),
		Temperature: b.cfg.Temperature,
	}
	if b.cfg.MaxTokens > 0 {
		request.MaxTokens = b.cfg.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools, err := toOpenAITools(req.Tools)
		if err != nil {
			return backendReply{}, err
		}
		request.Tools = tools
		request.ToolChoice = req.ToolChoice
	}

	resp, err := b.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return backendReply{}, err
	}
	if len(resp.Choices) == 0 {
		return backendReply{}, errors.New("llm: empty choices in response")
	}

	message := resp.Choices[0].Message
	reply := backendReply{
		Content:          message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	for _, call := range message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, schema.ToolCall{
			ID:   call.ID,
			Type: string(call.Type),
			Function: schema.Function{
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			},
		})
	}
	return reply, nil
}

func toOpenAIMessages(messages []schema.Message, visionDetails string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Content.Multi() {
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case "text":
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case "image_url":
					if part.ImageURL == nil {
						continue
					}
					detail := openai.ImageURLDetail(visionDetails)
					if detail == "" {
						detail = openai.ImageURLDetailAuto
					}
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    part.ImageURL.URL,
							Detail: detail,
						},
					})
				}
			}
		} else {
			m.Content = msg.Content.Text
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolType(call.Type),
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: string(call.Function.Arguments),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

// toOpenAITools converts registry tool schemas through a JSON round-trip, the
// shapes are already OpenAI function-tool params.
func toOpenAITools(tools []map[string]any) ([]openai.Tool, error) {
	encoded, err := json.Marshal(tools)
	if err != nil {
		return nil, err
	}
	var out []openai.Tool
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
