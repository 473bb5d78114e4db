package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kbrag/internal/adapter/store"
	"kbrag/internal/adapter/vectorindex"
	"kbrag/internal/domain"
)

var (
	statsJSON bool
	statsRuns int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and ingestion statistics",
	Long: `Show the persisted index size, the catalog schema and recent
ingestion runs with their skipped documents.

Examples:
  kbrag stats
  kbrag stats --runs 5 --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	statsCmd.Flags().IntVar(&statsRuns, "runs", 3, "number of recent runs to show")
}

type statsOutput struct {
	IndexPath     string                  `json:"index_path"`
	IndexExists   bool                    `json:"index_exists"`
	Chunks        int                     `json:"chunks"`
	Dimension     int                     `json:"dimension"`
	SchemaVersion int                     `json:"schema_version"`
	ConfigChanged bool                    `json:"config_changed"`
	Runs          []domain.IngestRun      `json:"runs"`
	Skipped       []domain.DocumentStatus `json:"skipped,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	dir := GetRootDir()
	ctx := cmd.Context()

	out := statsOutput{
		IndexPath: cfg.IndexBasePath(dir),
		Dimension: cfg.Index.Dimension,
	}
	out.IndexExists = vectorindex.Exists(ctx, out.IndexPath)
	if out.IndexExists {
		idx, err := vectorindex.Open(ctx, out.IndexPath, cfg.Index.Dimension)
		if err != nil {
			return err
		}
		out.Chunks = idx.Count()
	}

	catalog, err := openCatalog(dir)
	if err != nil {
		return err
	}
	defer catalog.Close()

	info, err := catalog.GetSchemaInfo()
	if err != nil {
		return err
	}
	out.SchemaVersion = info.Version
	out.ConfigChanged = info.ConfigHash != "" && info.ConfigHash != store.ComputeConfigHash(cfg)

	runs, err := catalog.Runs()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if statsRuns >= 0 && len(runs) > statsRuns {
		runs = runs[:statsRuns]
	}
	out.Runs = runs

	if last, err := catalog.LastRun(); err == nil && last != nil {
		statuses, err := catalog.DocumentStatuses(last.ID)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			if s.Status == domain.StatusSkipped {
				out.Skipped = append(out.Skipped, s)
			}
		}
	}

	if statsJSON {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Index:           %s\n", out.IndexPath)
	if !out.IndexExists {
		fmt.Println("  (not built, run 'kbrag ingest')")
	} else {
		fmt.Printf("  Chunks:        %d\n", out.Chunks)
		fmt.Printf("  Dimension:     %d\n", out.Dimension)
	}
	fmt.Printf("Schema version:  %d\n", out.SchemaVersion)
	if out.ConfigChanged {
		fmt.Println("Configuration changed since the last ingest; the index will be rebuilt.")
	}

	if len(out.Runs) == 0 {
		fmt.Println("\nNo ingestion runs recorded.")
		return nil
	}
	fmt.Printf("\nRecent runs:\n")
	for _, r := range out.Runs {
		started := time.Unix(r.StartedAt, 0).Format(time.DateTime)
		if r.FinishedAt == 0 {
			fmt.Printf("  %s  %s  (incomplete)\n", started, r.ID)
			continue
		}
		if r.Error != "" {
			fmt.Printf("  %s  %s  failed: %s\n", started, r.ID, r.Error)
			continue
		}
		took := time.Duration(r.FinishedAt-r.StartedAt) * time.Second
		fmt.Printf("  %s  %s  indexed=%d skipped=%d chunks=%d took=%s\n",
			started, r.ID, r.DocumentsIndexed, r.DocumentsSkipped, r.Chunks, formatDuration(took))
	}

	if len(out.Skipped) > 0 {
		fmt.Printf("\nSkipped in last run:\n")
		for _, s := range out.Skipped {
			fmt.Printf("  - %s/%s: %s\n", s.Repo, s.Title, s.Reason)
		}
	}
	return nil
}
