// Package source fetches documents from the upstream knowledge base.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"kbrag/internal/domain"
)

const defaultYuqueBaseURL = "https://www.yuque.com/api/v2"

// YuqueOptions configures a YuqueSource.
type YuqueOptions struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	Logger      *slog.Logger
}

// YuqueSource reads repositories and documents through the Yuque open API.
type YuqueSource struct {
	baseURL     string
	token       string
	maxRetries  int
	backoffBase time.Duration
	client      *http.Client
	logger      *slog.Logger
}

type yuqueRepo struct {
	ID        int64  `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type yuqueDoc struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	User      struct {
		Name string `json:"name"`
	} `json:"user"`
}

type yuqueDocDetail struct {
	Body string `json:"body"`
}

// NewYuqueSource creates a Yuque source.
func NewYuqueSource(opts YuqueOptions) (*YuqueSource, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("yuque token is empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultYuqueBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &YuqueSource{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		client:      &http.Client{Timeout: opts.Timeout},
		logger:      opts.Logger,
	}, nil
}

// NewYuqueSourceFromEnv reads the token from the named environment variable.
func NewYuqueSourceFromEnv(tokenEnv string, opts YuqueOptions) (*YuqueSource, error) {
	opts.Token = os.Getenv(tokenEnv)
	if opts.Token == "" {
		return nil, fmt.Errorf("yuque token not found in environment variable: %s", tokenEnv)
	}
	return NewYuqueSource(opts)
}

// ListDocumentSources returns the namespaces of every repository of a group.
func (s *YuqueSource) ListDocumentSources(ctx context.Context, groupID string) ([]string, error) {
	var repos []yuqueRepo
	if err := s.get(ctx, "/groups/"+url.PathEscape(groupID)+"/repos", &repos); err != nil {
		return nil, fmt.Errorf("failed to list repos of group %s: %w", groupID, err)
	}
	namespaces := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.Namespace != "" {
			namespaces = append(namespaces, r.Namespace)
		}
	}
	return namespaces, nil
}

// ListDocuments lists the documents of a repository. A missing title
// defaults to the slug.
func (s *YuqueSource) ListDocuments(ctx context.Context, sourceID string) ([]domain.DocumentRef, error) {
	var docs []yuqueDoc
	if err := s.get(ctx, "/repos/"+sourceID+"/docs", &docs); err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", sourceID, err)
	}
	refs := make([]domain.DocumentRef, 0, len(docs))
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = d.Slug
		}
		refs = append(refs, domain.DocumentRef{
			ID:        strconv.FormatInt(d.ID, 10),
			Slug:      d.Slug,
			Title:     title,
			Author:    d.User.Name,
			CreatedAt: d.CreatedAt,
		})
	}
	return refs, nil
}

// FetchDocumentBody returns the markdown or HTML body of a document. Once
// retries are exhausted, or on a non-retryable failure, it returns "" so the
// document is skipped instead of failing the run. Only context cancellation
// is returned as an error.
func (s *YuqueSource) FetchDocumentBody(ctx context.Context, sourceID, slug string) (string, error) {
	var detail yuqueDocDetail
	err := s.get(ctx, "/repos/"+sourceID+"/docs/"+url.PathEscape(slug), &detail)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("skipping document", "repo", sourceID, "slug", slug, "error", err)
		return "", nil
	}
	return detail.Body, nil
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// get performs a GET against the API and decodes the "data" envelope into
// out, retrying transient failures with exponential backoff.
func (s *YuqueSource) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			wait := s.backoffBase << (attempt - 1)
			s.logger.Warn("request failed, retrying",
				"path", path, "attempt", attempt, "max_retries", s.maxRetries, "wait", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		err := s.getOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *YuqueSource) getOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Auth-Token", s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if isTransient(err) {
			return &retryableError{err: fmt.Errorf("request failed: %w", err)}
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API returned status %d: %s", resp.StatusCode, preview(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &retryableError{err: err}
		}
		return err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
