package ai

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

type geminiBackend struct {
	client *genai.Client
	model  string
}

func newGeminiBackend(ctx context.Context, cfg *EmbeddingConfig) (*geminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &geminiBackend{client: client, model: cfg.Model}, nil
}

func (b *geminiBackend) embed(ctx context.Context, texts []string, taskType TaskType, dims int) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{TaskType: string(taskType)}
	if dims > 0 {
		d := int32(dims)
		config.OutputDimensionality = &d
	}

	resp, err := b.client.Models.EmbedContent(ctx, b.model, contents, config)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, errors.New("empty embedding response")
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, errors.Errorf("missing embedding at index %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}
