package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/docpipe/internal/config"
)

// Embedder turns a batch of texts into vectors of the same length and
// order. A batch either succeeds as a whole or fails as a whole, so a
// caller can retry the full unit.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

type Factory func(model string, args interface{}) (Embedder, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(cfg config.EmbedderConfig) (Embedder, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("embedder.type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
	return factory(cfg.Model, cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embedder config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embedder config: %w", err)
	}
	return nil
}
