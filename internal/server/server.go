// Package server exposes question answering over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kbrag/internal/domain"
	"kbrag/internal/port"
	"kbrag/internal/usecase"
)

// Answerer generates answers grounded on the knowledge base.
type Answerer interface {
	Answer(ctx context.Context, question string) (*usecase.Answer, error)
	AnswerStream(ctx context.Context, question string) (<-chan port.StreamToken, []domain.ScoredChunk, error)
}

// IndexStatus reports the state of the served index.
type IndexStatus interface {
	Chunks() int
	Generation() uint64
}

// emptyQuestionMessage is returned as the answer to a blank question.
const emptyQuestionMessage = "Please enter a question."

// Server is the HTTP server for the QA API.
type Server struct {
	answerer  Answerer
	retriever port.Retriever
	status    IndexStatus
	logger    *slog.Logger
	addr      string
}

// New creates a new HTTP server. status may be nil.
func New(answerer Answerer, retriever port.Retriever, status IndexStatus, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		answerer:  answerer,
		retriever: retriever,
		status:    status,
		logger:    logger,
		addr:      addr,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	s.logger.Info("server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type questionRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer  string         `json:"answer"`
	Sources []sourceResult `json:"sources,omitempty"`
}

type sourceResult struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Chunks     int    `json:"chunks"`
	Generation uint64 `json:"generation"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Message: "service is running"}
	if s.status != nil {
		resp.Chunks = s.status.Chunks()
		resp.Generation = s.status.Generation()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusOK, chatResponse{Answer: emptyQuestionMessage})
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("answer failed", "request_id", requestID(r), "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer.Text, Sources: toSources(answer.Sources)})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if strings.TrimSpace(req.Question) == "" {
		sendDone(w, flusher, map[string]any{"content": emptyQuestionMessage, "done": true})
		return
	}

	tokens, _, err := s.answerer.AnswerStream(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("answer stream failed", "request_id", requestID(r), "error", err)
		sendDone(w, flusher, map[string]any{"error": err.Error(), "done": true})
		return
	}

	for tok := range tokens {
		if tok.Done {
			if tok.Error != nil {
				s.logger.Error("answer stream failed", "request_id", requestID(r), "error", tok.Error)
				sendDone(w, flusher, map[string]any{"error": tok.Error.Error(), "done": true})
				return
			}
			sendDone(w, flusher, map[string]any{"done": true})
			return
		}
		sendSSE(w, flusher, map[string]any{"content": tok.Content})
	}
	// channel closed without a done token: the request was cancelled
}

type retrieveResponse struct {
	Results []sourceResult `json:"results"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, usecase.ErrEmptyQuestion)
		return
	}

	chunks, err := s.retriever.Retrieve(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("retrieve failed", "request_id", requestID(r), "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Results: toSources(chunks)})
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (questionRequest, bool) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return req, false
	}
	return req, true
}

func toSources(chunks []domain.ScoredChunk) []sourceResult {
	out := make([]sourceResult, len(chunks))
	for i, c := range chunks {
		out[i] = sourceResult{Content: c.Chunk.Content, Score: c.Score, Metadata: c.Chunk.Metadata}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, data map[string]any) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

func sendDone(w http.ResponseWriter, flusher http.Flusher, data map[string]any) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", jsonData)
	flusher.Flush()
}
