package usecase

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"kbrag/internal/domain"
	"kbrag/internal/port"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

var answerTemplate = template.Must(template.ParseFS(promptTemplates, "templates/answer.txt"))

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// ContextSeparator joins chunk contents in the answer prompt.
const ContextSeparator = "\n\n"

// AnswerUseCase answers questions from retrieved knowledge-base chunks.
type AnswerUseCase struct {
	retriever port.Retriever
	llm       port.LLM
}

// NewAnswerUseCase creates a new answer use case.
func NewAnswerUseCase(retriever port.Retriever, llm port.LLM) *AnswerUseCase {
	return &AnswerUseCase{retriever: retriever, llm: llm}
}

// Answer is a generated answer with the chunks it was grounded on.
type Answer struct {
	Text    string               `json:"answer"`
	Sources []domain.ScoredChunk `json:"sources,omitempty"`
}

// BuildPrompt renders the answer prompt for question over chunks.
func BuildPrompt(question string, chunks []domain.ScoredChunk) (string, error) {
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Chunk.Content
	}

	var buf bytes.Buffer
	err := answerTemplate.Execute(&buf, struct {
		Context  string
		Question string
	}{
		Context:  strings.Join(contents, ContextSeparator),
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (u *AnswerUseCase) prepare(ctx context.Context, question string) (string, []domain.ScoredChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", nil, ErrEmptyQuestion
	}
	chunks, err := u.retriever.Retrieve(ctx, question)
	if err != nil {
		return "", nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	prompt, err := BuildPrompt(question, chunks)
	if err != nil {
		return "", nil, err
	}
	return prompt, chunks, nil
}

// Answer retrieves context for question and generates the full answer.
func (u *AnswerUseCase) Answer(ctx context.Context, question string) (*Answer, error) {
	prompt, chunks, err := u.prepare(ctx, question)
	if err != nil {
		return nil, err
	}
	text, err := u.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return &Answer{Text: text, Sources: chunks}, nil
}

// AnswerStream retrieves context for question and streams the answer.
// The returned chunks are the retrieval result the answer is based on.
func (u *AnswerUseCase) AnswerStream(ctx context.Context, question string) (<-chan port.StreamToken, []domain.ScoredChunk, error) {
	prompt, chunks, err := u.prepare(ctx, question)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := u.llm.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return tokens, chunks, nil
}
