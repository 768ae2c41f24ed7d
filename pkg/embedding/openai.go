package embedding

import (
	"context"
	"errors"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	maxRetries int
}

// NewOpenAIEmbedder builds the embedder. The API key falls back to
// OPENAI_API_KEY when not configured.
func NewOpenAIEmbedder(opts Options) (*OpenAIEmbedder, error) {
	opts.normalize()
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(model),
		maxRetries: opts.MaxRetries,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	return withRetries(ctx, e.maxRetries, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:          []string{text},
			Model:          e.model,
			EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, errors.New("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	})
}
