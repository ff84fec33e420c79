package domain

// Chunk is one embedded slice of the knowledge base (a CV section, a
// publication abstract, a project page) used for retrieval.
type Chunk struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}
