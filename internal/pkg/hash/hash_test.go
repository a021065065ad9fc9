package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Sum(nil))
	require.Equal(t, Sum([]byte("hello")), SumString("hello"))
	require.NotEqual(t, SumString("hello"), SumString("hello "))
}

func TestDocumentID(t *testing.T) {
	hash := SumString("content")
	id := DocumentID("u1", hash)
	require.Len(t, id, 32)
	require.Equal(t, id, DocumentID("u1", hash))
	require.NotEqual(t, id, DocumentID("u2", hash))
	require.NotEqual(t, id, DocumentID("u1", SumString("other")))
}

func TestChunkID(t *testing.T) {
	id := ChunkID("doc-1", "goldmark", 1, 0)
	require.Len(t, id, 32)
	require.Equal(t, id, ChunkID("doc-1", "goldmark", 1, 0))
	require.NotEqual(t, id, ChunkID("doc-1", "goldmark", 1, 1))
	require.NotEqual(t, id, ChunkID("doc-1", "goldmark", 2, 0))
	require.NotEqual(t, id, ChunkID("doc-2", "goldmark", 1, 0))
}
