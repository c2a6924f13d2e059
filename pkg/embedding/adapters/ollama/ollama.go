package ollama

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/lexlapax/omegamem/pkg/embedding"
	"github.com/lexlapax/omegamem/pkg/log"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "nomic-embed-text"
	// DefaultBaseURL is the local Ollama API endpoint.
	DefaultBaseURL = "http://localhost:11434/api"
	// DefaultDimension is the output size of DefaultModel.
	DefaultDimension = 768
)

// Config holds the configuration for the Ollama embedder.
type Config struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

// Embedder implements embedding.Embedder against a local Ollama server
// using chromem-go's Ollama embedding function. Vectors come back
// normalized.
type Embedder struct {
	embed     chromem.EmbeddingFunc
	model     string
	dimension int
}

var _ embedding.Embedder = (*Embedder)(nil)

// New creates an Ollama embedder. No request is made until the first call.
func New(config Config) *Embedder {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Dimension <= 0 {
		config.Dimension = DefaultDimension
	}
	log.Debug("Initialized Ollama embedder", "model", config.Model, "base_url", config.BaseURL)
	return newWithFunc(chromem.NewEmbeddingFuncOllama(config.Model, config.BaseURL), config.Model, config.Dimension)
}

func newWithFunc(fn chromem.EmbeddingFunc, model string, dimension int) *Embedder {
	return &Embedder{embed: fn, model: model, dimension: dimension}
}

// Dimension implements embedding.Embedder.
func (e *Embedder) Dimension() int { return e.dimension }

// GenerateEmbeddings implements embedding.Embedder. Ollama embeds one text
// per request, so texts are sent sequentially.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.embed(ctx, text)
		if err != nil {
			log.ErrorContext(ctx, "Failed to generate embedding", "model", e.model, "error", err)
			return nil, fmt.Errorf("ollama embedding %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
