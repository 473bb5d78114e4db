package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kbrag/internal/domain"
	"kbrag/internal/port"
	"kbrag/internal/usecase"
)

type fakeAnswerer struct {
	text     string
	tokens   []port.StreamToken
	err      error
	question string
}

func (a *fakeAnswerer) Answer(_ context.Context, question string) (*usecase.Answer, error) {
	a.question = question
	if a.err != nil {
		return nil, a.err
	}
	return &usecase.Answer{
		Text:    a.text,
		Sources: []domain.ScoredChunk{{Chunk: domain.Chunk{Content: "source"}, Score: 0.7}},
	}, nil
}

func (a *fakeAnswerer) AnswerStream(_ context.Context, question string) (<-chan port.StreamToken, []domain.ScoredChunk, error) {
	a.question = question
	if a.err != nil {
		return nil, nil, a.err
	}
	ch := make(chan port.StreamToken, len(a.tokens))
	for _, tok := range a.tokens {
		ch <- tok
	}
	close(ch)
	return ch, nil, nil
}

type fakeRetriever struct {
	chunks []domain.ScoredChunk
	err    error
}

func (r *fakeRetriever) Retrieve(context.Context, string) ([]domain.ScoredChunk, error) {
	return r.chunks, r.err
}

type fakeStatus struct{}

func (fakeStatus) Chunks() int        { return 42 }
func (fakeStatus) Generation() uint64 { return 3 }

func newTestServer(a Answerer, r port.Retriever) *httptest.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httptest.NewServer(New(a, r, fakeStatus{}, ":0", logger).Handler())
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{}, &fakeRetriever{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Chunks != 42 || body.Generation != 3 {
		t.Errorf("unexpected health response %+v", body)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("response should carry a request ID")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestChat(t *testing.T) {
	answerer := &fakeAnswerer{text: "It works."}
	ts := newTestServer(answerer, &fakeRetriever{})
	defer ts.Close()

	resp := post(t, ts.URL+"/chat", `{"question":"Does it work?"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Answer != "It works." || len(body.Sources) != 1 {
		t.Errorf("unexpected response %+v", body)
	}
	if answerer.question != "Does it work?" {
		t.Errorf("question not passed through, got %q", answerer.question)
	}
}

func TestChat_EmptyQuestion(t *testing.T) {
	answerer := &fakeAnswerer{}
	ts := newTestServer(answerer, &fakeRetriever{})
	defer ts.Close()

	resp := post(t, ts.URL+"/chat", `{"question":"   "}`)
	defer resp.Body.Close()

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Answer != emptyQuestionMessage {
		t.Errorf("expected prompt to enter a question, got %q", body.Answer)
	}
	if answerer.question != "" {
		t.Error("blank question should not reach the answerer")
	}
}

func TestChat_Errors(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{err: errors.New("llm down")}, &fakeRetriever{})
	defer ts.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad json", http.MethodPost, "/chat", `{`, http.StatusBadRequest},
		{"answer failure", http.MethodPost, "/chat", `{"question":"q"}`, http.StatusInternalServerError},
		{"wrong method", http.MethodGet, "/chat", ``, http.StatusMethodNotAllowed},
		{"preflight", http.MethodOptions, "/chat", ``, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestChatStream(t *testing.T) {
	answerer := &fakeAnswerer{tokens: []port.StreamToken{
		{Content: "Hel"},
		{Content: "lo"},
		{Done: true},
	}}
	ts := newTestServer(answerer, &fakeRetriever{})
	defer ts.Close()

	resp := post(t, ts.URL+"/chat/stream", `{"question":"hi"}`)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	want := "data: {\"content\":\"Hel\"}\n\n" +
		"data: {\"content\":\"lo\"}\n\n" +
		"event: done\ndata: {\"done\":true}\n\n"
	if string(data) != want {
		t.Errorf("unexpected stream\ngot:  %q\nwant: %q", data, want)
	}
}

func TestChatStream_Errors(t *testing.T) {
	t.Run("stream error", func(t *testing.T) {
		answerer := &fakeAnswerer{tokens: []port.StreamToken{
			{Content: "partial"},
			{Done: true, Error: errors.New("connection reset")},
		}}
		ts := newTestServer(answerer, &fakeRetriever{})
		defer ts.Close()

		resp := post(t, ts.URL+"/chat/stream", `{"question":"hi"}`)
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if !strings.HasSuffix(string(data), "event: done\ndata: {\"done\":true,\"error\":\"connection reset\"}\n\n") {
			t.Errorf("stream should end with the error, got %q", data)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		ts := newTestServer(&fakeAnswerer{}, &fakeRetriever{})
		defer ts.Close()

		resp := post(t, ts.URL+"/chat/stream", `{"question":""}`)
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(data), emptyQuestionMessage) || !strings.HasPrefix(string(data), "event: done\n") {
			t.Errorf("unexpected stream %q", data)
		}
	})
}

func TestRetrieve(t *testing.T) {
	retriever := &fakeRetriever{chunks: []domain.ScoredChunk{
		{Chunk: domain.Chunk{Content: "a", Metadata: map[string]any{"title": "A"}}, Score: 0.9},
		{Chunk: domain.Chunk{Content: "b"}, Score: 0.4},
	}}
	ts := newTestServer(&fakeAnswerer{}, retriever)
	defer ts.Close()

	resp := post(t, ts.URL+"/retrieve", `{"question":"q"}`)
	defer resp.Body.Close()

	var body retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 2 || body.Results[0].Content != "a" || body.Results[0].Metadata["title"] != "A" {
		t.Errorf("unexpected results %+v", body.Results)
	}

	resp2 := post(t, ts.URL+"/retrieve", `{"question":""}`)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("blank question should be rejected, got %d", resp2.StatusCode)
	}
}
