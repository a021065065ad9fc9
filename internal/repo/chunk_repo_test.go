package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docpipe/internal/model"
	"github.com/xxxsen/docpipe/internal/pkg/timeutil"
	"github.com/xxxsen/docpipe/internal/repo"
	"github.com/xxxsen/docpipe/internal/testutil"
)

func testVector(fill float32) []float32 {
	vec := make([]float32, 768)
	for i := range vec {
		vec[i] = fill
	}
	return vec
}

func makeChunks(documentID string, count int) []*model.Chunk {
	now := timeutil.NowUnix()
	chunks := make([]*model.Chunk, 0, count)
	for i := 0; i < count; i++ {
		chunks = append(chunks, &model.Chunk{
			ID:              documentID + "-c" + string(rune('a'+i)),
			DocumentID:      documentID,
			Ordinal:         i,
			Text:            "chunk text",
			TokenCount:      2,
			ContentHash:     documentID + "-h" + string(rune('a'+i)),
			Strategy:        "goldmark",
			StrategyVersion: 1,
			Ctime:           now,
		})
	}
	return chunks
}

func TestChunkRepoUpsertIsIdempotent(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	chunks := repo.NewChunkRepo(conn)
	batch := makeChunks("doc-1", 3)
	require.NoError(t, chunks.UpsertBatch(ctx, batch))
	require.NoError(t, chunks.UpsertBatch(ctx, batch))

	count, err := chunks.CountByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	listed, err := chunks.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, chunk := range listed {
		require.Equal(t, i, chunk.Ordinal)
		require.Nil(t, chunk.Embedding)
	}
}

func TestChunkRepoEmbeddingProgress(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	chunks := repo.NewChunkRepo(conn)
	batch := makeChunks("doc-1", 3)
	require.NoError(t, chunks.UpsertBatch(ctx, batch))

	missing, err := chunks.ListMissingEmbedding(ctx, "doc-1", 2)
	require.NoError(t, err)
	require.Len(t, missing, 2)

	require.NoError(t, chunks.SaveEmbedding(ctx, batch[0].ID, testVector(0.5)))
	require.NoError(t, chunks.SaveEmbedding(ctx, batch[1].ID, testVector(0.25)))

	missing, err = chunks.ListMissingEmbedding(ctx, "doc-1", 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, batch[2].ID, missing[0].ID)

	left, err := chunks.CountMissingEmbedding(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), left)

	// A stored vector is never overwritten.
	require.NoError(t, chunks.SaveEmbedding(ctx, batch[0].ID, testVector(0.9)))
	listed, err := chunks.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.InDelta(t, 0.5, listed[0].Embedding[0], 0.001)
	require.Len(t, listed[0].Embedding, 768)
}

func TestChunkRepoEmptyBatch(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	chunks := repo.NewChunkRepo(conn)
	require.NoError(t, chunks.UpsertBatch(context.Background(), nil))
}
