package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lexlapax/omegamem/pkg/embedding"
	"github.com/lexlapax/omegamem/pkg/log"
)

// ErrEmptyAPIKey is returned when the API key is missing.
var ErrEmptyAPIKey = errors.New("API key cannot be empty")

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "text-embedding-3-small"
	// DefaultDimension is the native output size of DefaultModel.
	DefaultDimension = 1536
)

// Config holds the configuration for the OpenAI embedder.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string `yaml:"api_key"`
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string `yaml:"model"`
	// Dimension requests shortened vectors from models that support it.
	// Zero keeps the model's native size.
	Dimension int `yaml:"dimension"`
	// BaseURL overrides the API endpoint (for testing).
	BaseURL string `yaml:"base_url"`
}

// Embedder implements embedding.Embedder using the OpenAI API.
type Embedder struct {
	client    *openai.Client
	model     string
	dimension int
	shorten   bool
}

var _ embedding.Embedder = (*Embedder)(nil)

// New creates a new OpenAI embedder.
func New(config Config) (*Embedder, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	// ada-002 has a fixed size and rejects the dimensions parameter
	shorten := config.Dimension > 0 && strings.HasPrefix(config.Model, "text-embedding-3")
	dim := config.Dimension
	if dim <= 0 {
		dim = nativeDimension(config.Model)
	}

	return &Embedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     config.Model,
		dimension: dim,
		shorten:   shorten,
	}, nil
}

func nativeDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	default:
		return DefaultDimension
	}
}

// Dimension implements embedding.Embedder.
func (e *Embedder) Dimension() int { return e.dimension }

// GenerateEmbeddings implements embedding.Embedder.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", e.model)

	request := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.shorten {
		request.Dimensions = e.dimension
	}

	response, err := e.client.CreateEmbeddings(ctx, request)
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate embeddings", "error", err)
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(response.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range response.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	log.DebugContext(ctx, "Successfully generated embeddings",
		"count", len(embeddings),
		"dimension", len(embeddings[0]),
		"model", e.model)

	return embeddings, nil
}
