package ollama

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEmbeddings_Sequential(t *testing.T) {
	var seen []string
	e := newWithFunc(func(ctx context.Context, text string) ([]float32, error) {
		seen = append(seen, text)
		return []float32{float32(len(text)), 1}, nil
	}, "test", 2)

	vecs, err := e.GenerateEmbeddings(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bbb"}, seen)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vecs)
	assert.Equal(t, 2, e.Dimension())
}

func TestGenerateEmbeddings_Error(t *testing.T) {
	boom := errors.New("connection refused")
	e := newWithFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, boom
	}, "test", 2)

	_, err := e.GenerateEmbeddings(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.GenerateEmbeddings(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDefaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, DefaultModel, e.model)
	assert.Equal(t, DefaultDimension, e.Dimension())
}

func TestIntegration_Ollama(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}
	e := New(Config{BaseURL: os.Getenv("OLLAMA_BASE_URL")})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	vecs, err := e.GenerateEmbeddings(ctx, []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], e.Dimension())
}
