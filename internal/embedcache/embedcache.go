package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docpipe/internal/embedder"
)

// WrapLRU caches batch embeddings by (model, chunk content hash). A
// cross-user duplicate chunk re-embedded within the TTL never leaves the
// process. Misses within a batch are forwarded as one sub-batch so the
// underlying client keeps its all-or-nothing contract.
func WrapLRU(next embedder.Embedder, size int, ttl time.Duration) embedder.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  embedder.Embedder
	cache *expirable.LRU[string, []float32]
}

// KeyedBatch pairs each text with its cache key (chunk content hash).
type KeyedBatch interface {
	EmbedKeyed(ctx context.Context, keys []string, texts []string) ([][]float32, error)
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func (l *lruEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = text
	}
	return l.EmbedKeyed(ctx, keys, texts)
}

func (l *lruEmbedder) EmbedKeyed(ctx context.Context, keys []string, texts []string) ([][]float32, error) {
	logger := logutil.GetLogger(ctx)
	out := make([][]float32, len(texts))
	var missKeys []string
	var missTexts []string
	var missIdx []int
	for i, key := range keys {
		if cached, ok := l.cache.Get(l.next.ModelName() + ":" + key); ok {
			out[i] = cloneEmbedding(cached)
			continue
		}
		missKeys = append(missKeys, key)
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		logger.Debug("embedding cache hit for full batch", zap.Int("size", len(texts)))
		return out, nil
	}
	vectors, err := l.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		out[missIdx[i]] = vec
		l.cache.Add(l.next.ModelName()+":"+missKeys[i], cloneEmbedding(vec))
	}
	logger.Debug("embedding cache filled",
		zap.Int("hits", len(texts)-len(missTexts)),
		zap.Int("misses", len(missTexts)),
	)
	return out, nil
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
