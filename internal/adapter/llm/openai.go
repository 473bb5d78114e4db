// Package llm generates answers through OpenAI-compatible chat endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"kbrag/internal/port"
)

const basePrompt = "You are a question answering assistant backed by a knowledge base. " +
	"Each question comes with passages retrieved from the knowledge base; answer accurately and concisely using them. " +
	"If the passages do not contain the answer, say politely that you cannot answer it. " +
	"Do not invent facts. " +
	"The passages are unrelated to each other and were retrieved only for their relevance to the question, so do not attribute facts from one passage to another. " +
	"Not every passage is relevant; judge each against the question. " +
	"The passages come from the knowledge base, not from the user; only the question is from the user. " +
	"Sometimes the user is only greeting you or joking. " +
	"Answer in the language of the question."

// Options configures an OpenAI-compatible chat model.
type Options struct {
	Model               string
	BaseURL             string
	APIKey              string
	MaxTokens           int
	Temperature         float32
	TimezoneOffsetHours int
}

// OpenAILLM implements port.LLM.
type OpenAILLM struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	zone        *time.Location
	now         func() time.Time
}

// NewOpenAILLM creates a chat model client. An empty API key is allowed for
// local servers such as Ollama.
func NewOpenAILLM(opts Options) *OpenAILLM {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	offset := opts.TimezoneOffsetHours
	return &OpenAILLM{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		zone:        time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*3600),
		now:         time.Now,
	}
}

// NewOpenAILLMFromEnv reads the API key from apiKeyEnv.
func NewOpenAILLMFromEnv(apiKeyEnv string, opts Options) (*OpenAILLM, error) {
	opts.APIKey = os.Getenv(apiKeyEnv)
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return NewOpenAILLM(opts), nil
}

// SystemPrompt returns the system prompt stamped with the current time.
func (l *OpenAILLM) SystemPrompt() string {
	now := l.now().In(l.zone)
	return fmt.Sprintf("[Current time: %s (%s)]\n%s", now.Format("2006-01-02 15:04"), l.zone.String(), basePrompt)
}

func (l *OpenAILLM) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: l.SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
		Stream:      stream,
	}
}

// Generate returns the complete answer.
func (l *OpenAILLM) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, l.request(prompt, false))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateStream streams the answer. The channel always ends with a token
// that has Done set, carrying Error if the stream failed.
func (l *OpenAILLM) GenerateStream(ctx context.Context, prompt string) (<-chan port.StreamToken, error) {
	stream, err := l.client.CreateChatCompletionStream(ctx, l.request(prompt, true))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}

	tokens := make(chan port.StreamToken)
	go func() {
		defer close(tokens)
		defer stream.Close()

		send := func(tok port.StreamToken) bool {
			select {
			case tokens <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(port.StreamToken{Done: true})
				return
			}
			if err != nil {
				send(port.StreamToken{Done: true, Error: fmt.Errorf("stream failed: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(port.StreamToken{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return tokens, nil
}

// ModelName returns the model name.
func (l *OpenAILLM) ModelName() string {
	return l.model
}
