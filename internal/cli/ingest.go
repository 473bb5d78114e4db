package cli

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	ingestGroup     string
	ingestNamespace string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the vector index from the knowledge source",
	Long: `Fetch every document of the configured source, split it into chunks,
embed the chunks and replace the persisted index. The run is recorded
in .kbrag/catalog.db.

Examples:
  kbrag ingest --namespace team/handbook   # One Yuque repository
  kbrag ingest --group team                # Every repository of a group`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestGroup, "group", "", "source group (default from config)")
	ingestCmd.Flags().StringVar(&ingestNamespace, "namespace", "", "single repository namespace (default from config)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if ingestGroup != "" {
		cfg.Source.Group = ingestGroup
		cfg.Source.Namespace = ""
	}
	if ingestNamespace != "" {
		cfg.Source.Namespace = ingestNamespace
	}

	a, err := newApp(cfg, GetRootDir(), GetLogger())
	if err != nil {
		return err
	}

	fmt.Printf("Ingesting from %s...\n", cfg.Source.Provider)

	result, err := a.ingest(cmd.Context(), newBarProgress())
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Run:               %s\n", result.RunID)
	fmt.Printf("  Documents indexed: %d\n", result.DocumentsIndexed)
	fmt.Printf("  Documents skipped: %d\n", result.DocumentsSkipped)
	fmt.Printf("  Chunks:            %d\n", result.Chunks)
	fmt.Printf("  Duration:          %s\n", formatDuration(result.Duration))

	if result.DocumentsSkipped > 0 {
		fmt.Printf("\nSkipped:\n")
		for _, s := range result.Statuses {
			if s.Reason != "" {
				fmt.Printf("  - %s/%s: %s\n", s.Repo, s.Title, s.Reason)
			}
		}
	}

	fmt.Printf("\nIndex stored at: %s\n", a.indexBase())
	return nil
}

// barProgress renders ingestion stages as progress bars.
type barProgress struct {
	bar   *progressbar.ProgressBar
	start time.Time
	stage string
	done  int
	total int
}

func newBarProgress() *barProgress {
	return &barProgress{}
}

func (p *barProgress) Start(stage string, total int) {
	p.stage = stage
	p.total = total
	p.done = 0
	p.start = time.Now()
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", stage)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

func (p *barProgress) Add(n int) {
	if p.bar == nil {
		return
	}
	p.done += n
	p.bar.Add(n)

	elapsed := time.Since(p.start)
	if p.done > 0 && elapsed > 0 {
		rate := float64(p.done) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(p.total-p.done)/rate) * time.Second
			p.bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", p.stage, formatDuration(eta)))
		}
	}
}

func (p *barProgress) Done() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
