package embedding

import (
	"context"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedder runs an in-process ONNX embedding model, useful when no
// embedding endpoint is reachable.
type FastEmbedder struct {
	model *fastembed.FlagEmbedding
}

// NewFastEmbedder loads the default flag-embedding model. Model files are
// cached under .fastembed in the working directory on first use; opts is not
// consulted.
func NewFastEmbedder(opts Options) (*FastEmbedder, error) {
	init := &fastembed.InitOptions{
		CacheDir: ".fastembed",
	}
	model, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, err
	}
	return &FastEmbedder{model: model}, nil
}

func (e *FastEmbedder) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	if kind == KindSearch {
		return e.model.QueryEmbed(text)
	}
	out, err := e.model.PassageEmbed([]string{"passage: " + text}, 1)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Close releases the underlying ONNX session.
func (e *FastEmbedder) Close() error {
	if e.model != nil {
		e.model.Destroy()
	}
	return nil
}
