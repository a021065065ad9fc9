package model

type DocumentStatus string

const (
	DocStatusUploaded            DocumentStatus = "uploaded"
	DocStatusParseQueued         DocumentStatus = "parse_queued"
	DocStatusParsed              DocumentStatus = "parsed"
	DocStatusParseValidated      DocumentStatus = "parse_validated"
	DocStatusChunking            DocumentStatus = "chunking"
	DocStatusChunksStored        DocumentStatus = "chunks_stored"
	DocStatusEmbeddingQueued     DocumentStatus = "embedding_queued"
	DocStatusEmbeddingInProgress DocumentStatus = "embedding_in_progress"
	DocStatusEmbeddingsStored    DocumentStatus = "embeddings_stored"
	DocStatusComplete            DocumentStatus = "complete"
	DocStatusFailed              DocumentStatus = "failed"
)

var docStatusRank = map[DocumentStatus]int{
	DocStatusUploaded:            0,
	DocStatusParseQueued:         1,
	DocStatusParsed:              2,
	DocStatusParseValidated:      3,
	DocStatusChunking:            4,
	DocStatusChunksStored:        5,
	DocStatusEmbeddingQueued:     6,
	DocStatusEmbeddingInProgress: 7,
	DocStatusEmbeddingsStored:    8,
	DocStatusComplete:            9,
}

// Rank orders the pipeline stages. failed is terminal and carries no rank.
func (s DocumentStatus) Rank() (int, bool) {
	rank, ok := docStatusRank[s]
	return rank, ok
}

func (s DocumentStatus) Terminal() bool {
	return s == DocStatusComplete || s == DocStatusFailed
}

// AtOrPast reports whether s has reached other in pipeline order.
func (s DocumentStatus) AtOrPast(other DocumentStatus) bool {
	a, ok1 := s.Rank()
	b, ok2 := other.Rank()
	return ok1 && ok2 && a >= b
}

type Document struct {
	ID           string
	UserID       string
	ContentHash  string
	ParsedHash   string
	MimeType     string
	ByteSize     int64
	RawPath      string
	ParsedPath   string
	Status       DocumentStatus
	ErrorMessage string
	Ctime        int64
	Mtime        int64
}
