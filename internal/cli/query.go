package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kbrag/internal/adapter/vectorindex"
	"kbrag/internal/domain"
)

var (
	queryText       string
	queryTopK       int
	queryJSON       bool
	queryVectorOnly bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the indexed knowledge base",
	Long: `Retrieve the chunks most relevant to a query using vector search
followed by reranking.

Examples:
  kbrag query -q "release schedule"
  kbrag query -q "on-call rotation" --vector-only -k 20 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of vector results with --vector-only (default top_k_initial)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryVectorOnly, "vector-only", false, "skip reranking and show stage-one results")
	queryCmd.MarkFlagRequired("query")
}

// ScoredChunkResult is a simplified result for CLI output.
type ScoredChunkResult struct {
	Title   string  `json:"title"`
	Repo    string  `json:"repo"`
	Slug    string  `json:"slug"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	a, err := newApp(cfg, GetRootDir(), GetLogger())
	if err != nil {
		return err
	}

	if !vectorindex.Exists(ctx, a.indexBase()) {
		return fmt.Errorf("no index found. Run 'kbrag ingest' first")
	}
	if err := a.loadIndex(ctx); err != nil {
		return err
	}

	var chunks []domain.ScoredChunk
	if queryVectorOnly {
		topK := cfg.Retrieve.TopKInitial
		if queryTopK > 0 {
			topK = queryTopK
		}
		chunks, err = a.retrieve.RetrieveVectorOnly(ctx, queryText, topK)
	} else {
		chunks, err = a.retriever.Retrieve(ctx, queryText)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results := make([]ScoredChunkResult, len(chunks))
	for i, c := range chunks {
		results[i] = ScoredChunkResult{
			Title:   c.Chunk.MetaString(domain.MetaTitle),
			Repo:    c.Chunk.MetaString(domain.MetaRepo),
			Slug:    c.Chunk.MetaString(domain.MetaSlug),
			Score:   c.Score,
			Content: c.Chunk.Content,
		}
	}

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s (%s/%s) (score: %.3f) ---\n", i+1, r.Title, r.Repo, r.Slug, r.Score)
		text := r.Content
		if runes := []rune(text); len(runes) > 300 {
			text = string(runes[:300]) + "..."
		}
		fmt.Println(strings.TrimSpace(text))
		fmt.Println()
	}
	return nil
}
