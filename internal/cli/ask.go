package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kbrag/internal/domain"
	"kbrag/internal/port"
	"kbrag/internal/usecase"
)

type streamAnswerer interface {
	AnswerStream(ctx context.Context, question string) (<-chan port.StreamToken, []domain.ScoredChunk, error)
}

var (
	askInteractive bool
	askSources     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the knowledge base",
	Long: `Retrieve context for a question and stream the model's answer.
In QA mode an existing index is reused; otherwise it is rebuilt first.

Examples:
  kbrag ask "What changed in April?"
  kbrag ask -i                          # Interactive session, type exit to quit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVarP(&askInteractive, "interactive", "i", false, "read questions until exit or quit")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the retrieved chunks after the answer")
}

func runAsk(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !askInteractive {
		return fmt.Errorf("a question is required unless --interactive is set")
	}

	cfg := GetConfig()
	ctx := cmd.Context()

	a, err := newApp(cfg, GetRootDir(), GetLogger())
	if err != nil {
		return err
	}

	model, err := newLLM(cfg)
	if err != nil {
		return fmt.Errorf("failed to create llm: %w", err)
	}
	if err := a.prepareIndex(ctx, newBarProgress()); err != nil {
		return err
	}
	answerer := usecase.NewAnswerUseCase(a.retriever, model)

	if len(args) == 1 {
		return askOnce(ctx, answerer, args[0], os.Stdout)
	}
	return askLoop(ctx, answerer, os.Stdin, os.Stdout)
}

// askLoop reads questions from in until exit or quit. Empty lines
// re-prompt and failed questions do not end the session.
func askLoop(ctx context.Context, answerer streamAnswerer, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Knowledge base ready. Type exit or quit to leave.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := askOnce(ctx, answerer, question, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func askOnce(ctx context.Context, answerer streamAnswerer, question string, out io.Writer) error {
	tokens, sources, err := answerer.AnswerStream(ctx, question)
	if err != nil {
		if errors.Is(err, usecase.ErrEmptyQuestion) {
			fmt.Fprintln(out, "Please enter a question.")
			return nil
		}
		return err
	}

	for tok := range tokens {
		if tok.Done {
			if tok.Error != nil {
				fmt.Fprintln(out)
				return tok.Error
			}
			break
		}
		fmt.Fprint(out, tok.Content)
	}
	fmt.Fprintln(out)

	if askSources {
		fmt.Fprintf(out, "\nSources (%d):\n", len(sources))
		for i, s := range sources {
			fmt.Fprintf(out, "  [%d] %s (score: %.3f)\n", i+1, s.Chunk.MetaString(domain.MetaTitle), s.Score)
		}
	}
	return nil
}
