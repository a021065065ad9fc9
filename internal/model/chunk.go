package model

type Chunk struct {
	ID              string
	DocumentID      string
	Ordinal         int
	Text            string
	TokenCount      int
	ContentHash     string
	Strategy        string
	StrategyVersion int
	// Embedding is nil until the embed stage writes a vector.
	Embedding []float32
	Ctime     int64
}
