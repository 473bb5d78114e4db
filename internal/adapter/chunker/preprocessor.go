package chunker

import (
	"iter"
	"strconv"

	"kbrag/internal/adapter/fingerprint"
	"kbrag/internal/domain"
)

// Preprocessor cleans, splits and enriches documents.
type Preprocessor struct {
	splitter *Splitter
}

// NewPreprocessor creates a preprocessor; see NewSplitter for the parameters.
func NewPreprocessor(size, overlap int, hardSplit bool) (*Preprocessor, error) {
	splitter, err := NewSplitter(size, overlap, hardSplit)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{splitter: splitter}, nil
}

// Chunks yields the enriched chunks of one document in order.
func (p *Preprocessor) Chunks(doc domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		cleaned := Clean(doc.Body)
		if cleaned == "" {
			return
		}
		docKey := domain.MetaString(doc.Metadata, domain.MetaRepo) + "/" + domain.MetaString(doc.Metadata, domain.MetaDocID)

		ordinal := 0
		for text := range p.splitter.Split(cleaned) {
			meta := domain.CloneMetadata(doc.Metadata)
			meta[domain.MetaChunkID] = fingerprint.Of(docKey, strconv.Itoa(ordinal), text)
			ordinal++

			chunk := domain.Chunk{
				Content:  Enrich(text, meta),
				Metadata: meta,
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// Process chunks every document. Order within and across documents is kept.
func (p *Preprocessor) Process(docs []domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for _, doc := range docs {
		for chunk := range p.Chunks(doc) {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
