package embedding

import (
	"context"
	"errors"
	"os"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEmbedder embeds text via the Gemini API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      *genai.EmbeddingModel
	maxRetries int
}

// NewGeminiEmbedder builds the embedder. The API key falls back to
// GOOGLE_API_KEY and then GEMINI_API_KEY.
func NewGeminiEmbedder(opts Options) (*GeminiEmbedder, error) {
	opts.normalize()
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("embedding: missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{
		client:     client,
		model:      client.EmbeddingModel(model),
		maxRetries: opts.MaxRetries,
	}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	return withRetries(ctx, e.maxRetries, func() ([]float32, error) {
		resp, err := e.model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, errors.New("empty embedding response")
		}
		return resp.Embedding.Values, nil
	})
}
