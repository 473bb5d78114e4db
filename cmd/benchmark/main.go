package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"kbrag/config"
	"kbrag/internal/cli"
	"kbrag/internal/domain"
)

func main() {
	dataDir := flag.String("dir", ".", "Directory holding kbrag.yaml and .kbrag/")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 0, "Stage-one candidates to show (default top_k_initial)")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -dir ./kb -q \"query\"")
		fmt.Println("\nCompares:")
		fmt.Println("  1. Stage one: vector similarity order")
		fmt.Println("  2. Stage two: reranked order after prefix reconciliation")
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.LoadFromDir(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	retrieve, err := cli.OpenRetriever(ctx, cfg, *dataDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}

	k := cfg.Retrieve.TopKInitial
	if *topK > 0 {
		k = *topK
	}

	fmt.Println("TWO-STAGE RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Embedding: %s (%s), dimension %d\n", cfg.Embedding.Model, cfg.Embedding.Provider, cfg.Index.Dimension)
	fmt.Printf("Reranker:  %s (%s)\n", cfg.Reranker.Model, cfg.Reranker.Provider)
	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	stageOne, err := retrieve.RetrieveVectorOnly(ctx, *query, k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(stageOne) == 0 {
		fmt.Println("No candidates. Is the index empty?")
		return
	}

	rank := make(map[string]int, len(stageOne))
	fmt.Printf("Stage one (top %d by similarity):\n\n", len(stageOne))
	totalScore := 0.0
	for i, r := range stageOne {
		if _, seen := rank[r.Chunk.Content]; !seen {
			rank[r.Chunk.Content] = i + 1
		}
		totalScore += r.Score
		fmt.Printf("%2d. [%.3f] %s\n", i+1, r.Score, label(r.Chunk))
		fmt.Printf("    %s\n", preview(r.Chunk.Content))
	}

	stageTwo, err := retrieve.Retrieve(ctx, *query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rerank error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Stage two (top %d after reranking):\n\n", len(stageTwo))
	moved := 0
	for i, r := range stageTwo {
		from := rank[r.Chunk.Content]
		if from != i+1 {
			moved++
		}
		fmt.Printf("%2d. [%.3f] (was %2d) %s\n", i+1, r.Score, from, label(r.Chunk))
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity:      %.3f\n", totalScore/float64(len(stageOne)))
	fmt.Printf("  Top-1 similarity:        %.3f\n", stageOne[0].Score)
	fmt.Printf("  Positions changed:       %d of %d\n", moved, len(stageTwo))
	fmt.Printf("  Reconciliation misses:   %d\n", retrieve.ReconciliationMisses())
}

func label(c domain.Chunk) string {
	title := c.MetaString(domain.MetaTitle)
	if title == "" {
		title = "(untitled)"
	}
	if repo := c.MetaString(domain.MetaRepo); repo != "" {
		return repo + " / " + title
	}
	return title
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > 120 {
		text = string(runes[:120]) + "..."
	}
	return strings.ReplaceAll(text, "\n", " ")
}
