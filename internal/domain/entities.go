package domain

// Metadata keys attached to documents and chunks.
const (
	MetaRepo      = "repo"
	MetaDocID     = "doc_id"
	MetaTitle     = "title"
	MetaAuthor    = "author_name"
	MetaCreatedAt = "created_at"
	MetaSlug      = "slug"
	MetaChunkID   = "chunk_id"
)

// HeaderFields lists, in order, the metadata fields joined into a chunk's provenance header.
var HeaderFields = []string{MetaTitle, MetaAuthor, MetaCreatedAt}

// Document is a raw document fetched from the knowledge source.
type Document struct {
	Body     string
	Metadata map[string]any
}

// DocumentRef describes a document listed by a source before its body is fetched.
type DocumentRef struct {
	ID        string
	Slug      string
	Title     string
	Author    string
	CreatedAt string
}

// Chunk is the unit of indexing and retrieval. Content is never empty.
type Chunk struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaString returns a metadata value rendered as a string, or "" when absent.
func (c Chunk) MetaString(key string) string {
	return MetaString(c.Metadata, key)
}

// ScoredChunk pairs a chunk with the score of the stage that produced it.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RerankedText is one entry of a reranker's output. Index is the position
// of the text in the candidate list when the reranker reports it, -1 when
// it does not.
type RerankedText struct {
	Text  string
	Score float64
	Index int
}

// DocumentStatus records what ingestion did with one document.
type DocumentStatus struct {
	DocID      string `json:"doc_id"`
	Repo       string `json:"repo"`
	Title      string `json:"title"`
	Status     string `json:"status"` // "indexed", "skipped"
	Reason     string `json:"reason,omitempty"`
	ChunkCount int    `json:"chunk_count"`
}

// Document statuses.
const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
)

// IngestRun summarises one ingestion run.
type IngestRun struct {
	ID               string `json:"id"`
	StartedAt        int64  `json:"started_at"`
	FinishedAt       int64  `json:"finished_at"`
	DocumentsIndexed int    `json:"documents_indexed"`
	DocumentsSkipped int    `json:"documents_skipped"`
	Chunks           int    `json:"chunks"`
	ConfigHash       string `json:"config_hash"`
	IndexPath        string `json:"index_path"`
	Error            string `json:"error,omitempty"`
}

