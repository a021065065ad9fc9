package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sum returns the hex sha256 digest of data. Identical bytes always hash
// identically regardless of filename or metadata.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func SumString(s string) string {
	return Sum([]byte(s))
}

// DocumentID derives the document id for a (user, content) pair. The same
// user re-uploading the same bytes always lands on the same id.
func DocumentID(userID, contentHash string) string {
	sum := sha256.Sum256([]byte("doc:" + userID + ":" + contentHash))
	return hex.EncodeToString(sum[:])[:32]
}

// ChunkID derives a chunk id stable across reprocessing runs with the same
// chunking strategy and version. A changed strategy or version produces a
// new chunk family instead of mutating existing rows.
func ChunkID(documentID, strategy string, version int, ordinal int) string {
	key := "chunk:" + documentID + ":" + strategy + ":v" + strconv.Itoa(version) + ":" + strconv.Itoa(ordinal)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}
