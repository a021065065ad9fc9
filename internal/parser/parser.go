package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/docpipe/internal/config"
)

type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateError   State = "error"
)

// Client is the boundary to the document parsing service. Submit returns a
// correlation id; completion is observed by polling Status or, for remote
// backends, via the inbound parse webhook which short-circuits the poll.
type Client interface {
	Submit(ctx context.Context, raw []byte, mimeType string) (string, error)
	Status(ctx context.Context, externalJobID string) (State, error)
	Result(ctx context.Context, externalJobID string) (string, error)
}

type Factory func(args interface{}) (Client, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(cfg config.ParserConfig) (Client, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("parser.type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported parser type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode parser config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode parser config: %w", err)
	}
	return nil
}
