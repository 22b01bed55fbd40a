package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// embeddingsService narrows the SDK's embeddings client to the one call
// this package needs, the same interface-indirection-for-testability shape
// the teacher's internal/embedding/openai.go uses over the SDK's service
// object.
type embeddingsService interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbedder implements Embedder over the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	svc        embeddingsService
	model      string
	dimensions int
}

// NewOpenAIEmbedder constructs an embedder using the given client, model
// name (e.g. "text-embedding-3-small"), and declared output dimension.
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions int) *OpenAIEmbedder {
	return &OpenAIEmbedder{svc: &client.Embeddings, model: model, dimensions: dimensions}
}

func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Dimensions() int   { return e.dimensions }

// Embed embeds a single string.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds many strings in one request, re-sorting the response by
// its declared Index so the returned slice matches the input order
// regardless of how the backend chooses to order results.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.svc.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.F[openai.EmbeddingNewParamsInputUnion](openai.EmbeddingNewParamsInputArrayOfStrings(texts)),
		Model:          openai.F(e.model),
		EncodingFormat: openai.F(openai.EmbeddingNewParamsEncodingFormatFloat),
	})
	if err != nil {
		return nil, fmt.Errorf("provider: embeddings request: %w", err)
	}

	data := make([]openai.Embedding, len(resp.Data))
	copy(data, resp.Data)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}
