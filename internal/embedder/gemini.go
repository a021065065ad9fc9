package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

type geminiConfig struct {
	APIKey   string `json:"api_key"`
	TaskType string `json:"task_type"`
}

type geminiEmbedder struct {
	apiKey   string
	model    string
	taskType string
}

func init() {
	Register("gemini", createGeminiEmbedder)
}

func createGeminiEmbedder(model string, args interface{}) (Embedder, error) {
	config := &geminiConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api_key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if config.TaskType == "" {
		config.TaskType = "RETRIEVAL_DOCUMENT"
	}
	return &geminiEmbedder{
		apiKey:   config.APIKey,
		model:    model,
		taskType: config.TaskType,
	}, nil
}

func (e *geminiEmbedder) ModelName() string {
	return e.model
}

func (e *geminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrTransient, err)
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	resp, err := client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: e.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrTransient, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count %d does not match batch %d",
			appErr.ErrTransient, len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}
