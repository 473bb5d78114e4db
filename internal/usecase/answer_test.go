package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kbrag/internal/domain"
)

func TestBuildPrompt(t *testing.T) {
	chunks := []domain.ScoredChunk{
		{Chunk: domain.Chunk{Content: "[Intro]\nFirst passage."}},
		{Chunk: domain.Chunk{Content: "Second passage."}},
	}

	prompt, err := BuildPrompt("What is it?", chunks)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	want := "Answer the question using the following content:\n\n" +
		"[Intro]\nFirst passage.\n\nSecond passage.\n\n" +
		"Question: What is it?\n\nAnswer:"
	if prompt != want {
		t.Errorf("prompt mismatch\ngot:  %q\nwant: %q", prompt, want)
	}
}

func TestBuildPrompt_NoContext(t *testing.T) {
	prompt, err := BuildPrompt("Anyone there?", nil)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.HasPrefix(prompt, "No relevant content was found in the knowledge base") {
		t.Errorf("prompt should state that nothing was found, got %q", prompt)
	}
	if !strings.HasSuffix(prompt, "Question: Anyone there?\n\nAnswer:") {
		t.Errorf("prompt should end with the question, got %q", prompt)
	}
}

func TestAnswer(t *testing.T) {
	retriever := &staticRetriever{chunks: []domain.ScoredChunk{
		{Chunk: domain.Chunk{Content: "Releases ship on Fridays."}, Score: 0.8},
	}}
	llm := &fakeLLM{answer: "On Fridays."}
	uc := NewAnswerUseCase(retriever, llm)

	answer, err := uc.Answer(context.Background(), "  When do releases ship?  ")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Text != "On Fridays." {
		t.Errorf("unexpected answer %q", answer.Text)
	}
	if len(answer.Sources) != 1 {
		t.Errorf("expected 1 source, got %d", len(answer.Sources))
	}
	if retriever.query != "When do releases ship?" {
		t.Errorf("question should be trimmed before retrieval, got %q", retriever.query)
	}
	if !strings.Contains(llm.prompt, "Releases ship on Fridays.") {
		t.Errorf("prompt should contain the retrieved chunk, got %q", llm.prompt)
	}
}

func TestAnswer_Errors(t *testing.T) {
	retrieveErr := errors.New("index offline")
	llmErr := errors.New("model overloaded")

	uc := NewAnswerUseCase(&staticRetriever{}, &fakeLLM{})
	if _, err := uc.Answer(context.Background(), " "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}

	uc = NewAnswerUseCase(&staticRetriever{err: retrieveErr}, &fakeLLM{})
	if _, err := uc.Answer(context.Background(), "q"); !errors.Is(err, retrieveErr) {
		t.Errorf("expected retrieval error, got %v", err)
	}

	uc = NewAnswerUseCase(&staticRetriever{}, &fakeLLM{err: llmErr})
	if _, err := uc.Answer(context.Background(), "q"); !errors.Is(err, llmErr) {
		t.Errorf("expected generation error, got %v", err)
	}
	if _, _, err := uc.AnswerStream(context.Background(), "q"); !errors.Is(err, llmErr) {
		t.Errorf("expected stream error, got %v", err)
	}
}

func TestAnswerStream(t *testing.T) {
	uc := NewAnswerUseCase(&staticRetriever{}, &fakeLLM{answer: "streamed answer"})

	tokens, sources, err := uc.AnswerStream(context.Background(), "q")
	if err != nil {
		t.Fatalf("AnswerStream: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("expected no sources, got %d", len(sources))
	}

	var sb strings.Builder
	done := false
	for tok := range tokens {
		if tok.Done {
			done = true
			break
		}
		sb.WriteString(tok.Content)
	}
	if !done {
		t.Error("stream should end with a done token")
	}
	if sb.String() != "streamed answer" {
		t.Errorf("unexpected streamed text %q", sb.String())
	}
}
