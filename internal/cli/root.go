package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"kbrag/config"
)

var (
	cfgFile string
	envFile string
	cfg     *config.Config
	rootDir string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kbrag",
	Short: "Knowledge-base question answering with two-stage retrieval",
	Long: `kbrag ingests a Yuque knowledge base (or a local directory of documents),
indexes it as dense vectors, and answers questions using vector search
followed by reranking.

Example usage:
  kbrag ingest --namespace team/handbook   # Build the index
  kbrag query -q "release schedule"        # Show retrieved chunks
  kbrag ask "When do we ship?"             # Answer a question
  kbrag serve --watch                      # Run the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if err := loadEnv(); err != nil {
			return err
		}

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger = newLogger(cfg.Logging, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

// loadEnv loads secrets from the .env file. A missing default file is fine.
func loadEnv() error {
	path := envFile
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if envFile == "" && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kbrag.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with API keys (default is ./.env)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "data root directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

func GetLogger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
