package parser

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/hashicorp/golang-lru/v2/expirable"

	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

const (
	// Results must stay readable across the whole retry schedule of the
	// job that submitted them, so a retry after a post-extraction failure
	// re-reads instead of losing the work.
	resultRetention = time.Hour
	resultCapacity  = 1024
)

type docconvConfig struct {
	UseOCR bool `json:"use_ocr"`
}

// docconvClient runs extraction in-process and completes synchronously:
// Submit converts right away and Status always reports a settled state.
// Result is idempotent; entries age out of the LRU after resultRetention.
type docconvClient struct {
	useOCR  bool
	results *expirable.LRU[string, docconvResult]
}

type docconvResult struct {
	text string
	err  error
}

func init() {
	Register("docconv", createDocconvClient)
}

func createDocconvClient(args interface{}) (Client, error) {
	config := &docconvConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	return &docconvClient{
		useOCR:  config.UseOCR,
		results: expirable.NewLRU[string, docconvResult](resultCapacity, nil, resultRetention),
	}, nil
}

func (c *docconvClient) Submit(ctx context.Context, raw []byte, mimeType string) (string, error) {
	_ = ctx
	id := newExternalID()
	res, err := docconv.Convert(bytes.NewReader(raw), mimeType, c.useOCR)
	if err != nil {
		c.results.Add(id, docconvResult{err: fmt.Errorf("%w: %v", appErr.ErrUnparseable, err)})
		return id, nil
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		c.results.Add(id, docconvResult{err: fmt.Errorf("%w: empty extraction", appErr.ErrUnparseable)})
		return id, nil
	}
	c.results.Add(id, docconvResult{text: text})
	return id, nil
}

func (c *docconvClient) Status(ctx context.Context, externalJobID string) (State, error) {
	_ = ctx
	res, ok := c.results.Get(externalJobID)
	if !ok {
		return StateError, appErr.ErrNotFound
	}
	if res.err != nil {
		return StateError, nil
	}
	return StateDone, nil
}

func (c *docconvClient) Result(ctx context.Context, externalJobID string) (string, error) {
	_ = ctx
	res, ok := c.results.Get(externalJobID)
	if !ok {
		return "", appErr.ErrNotFound
	}
	if res.err != nil {
		return "", res.err
	}
	return res.text, nil
}

func newExternalID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
