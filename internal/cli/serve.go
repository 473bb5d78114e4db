package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kbrag/internal/adapter/watcher"
	"kbrag/internal/server"
	"kbrag/internal/usecase"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP question answering API",
	Long: `Serve GET /health, POST /chat, POST /chat/stream and POST /retrieve.
With --watch the index is reloaded whenever its artifacts change, for
example after 'kbrag ingest' runs in another process.

Examples:
  kbrag serve --addr :8000
  kbrag serve --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the index when its files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, GetRootDir(), log)
	if err != nil {
		return err
	}

	model, err := newLLM(cfg)
	if err != nil {
		return fmt.Errorf("failed to create llm: %w", err)
	}
	if err := a.prepareIndex(ctx, nil); err != nil {
		return err
	}

	if serveWatch || cfg.Server.WatchIndex {
		w, err := watcher.NewIndexWatcher(a.indexBase(), 500*time.Millisecond, log)
		if err != nil {
			return err
		}
		defer w.Close()
		go func() {
			if err := w.Run(ctx, a.loadIndex); err != nil && ctx.Err() == nil {
				log.Error("index watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(usecase.NewAnswerUseCase(a.retriever, model), a.retriever, a.handle, addr, log)
	return srv.Start(ctx)
}
