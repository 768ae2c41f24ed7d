package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaEmbedder embeds text against a local or remote Ollama daemon.
type OllamaEmbedder struct {
	client     *ollama.Client
	model      string
	maxRetries int
}

// NewOllamaEmbedder builds the embedder. The host falls back to OLLAMA_HOST
// and then to the daemon's default address.
func NewOllamaEmbedder(opts Options) (*OllamaEmbedder, error) {
	opts.normalize()
	host := opts.BaseURL
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	model := opts.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		client:     ollama.NewClient(u, httpClient),
		model:      model,
		maxRetries: opts.MaxRetries,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	return withRetries(ctx, e.maxRetries, func() ([]float32, error) {
		res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
			Model: e.model,
			Input: text,
		})
		if err != nil {
			return nil, err
		}
		if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
			return nil, errors.New("empty embedding response")
		}
		return res.Embeddings[0], nil
	})
}
