package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"learnbot/internal/config"
	"learnbot/internal/conversation"
	"learnbot/internal/domain"
	"learnbot/internal/ingest"
	"learnbot/internal/logging"
	"learnbot/internal/tui"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "learnbot",
	Short: "A question answering bot that learns from its users",
	Long: `learnbot answers questions from a knowledge base of taught answers,
matched by meaning rather than exact wording. Answers it cannot find are
looked up online, and wrong answers can be corrected in the conversation.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		if cfgPath == "" {
			cfg, _, err = config.LoadDefault()
		} else {
			cfg, err = config.Load(cfgPath)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		opts := logging.Options{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			Verbose:     verbose,
			File:        cfg.Logging.File,
		}
		// The chat UI owns the terminal.
		if isChat(cmd) && opts.File == "" {
			opts.File = filepath.Join(config.DataDir(), "learnbot.log")
		}
		logger, err = logging.New(opts)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var teachCmd = &cobra.Command{
	Use:     "teach [question] [answer]",
	Short:   "Teach an answer to a question",
	Example: `  learnbot teach "what is the capital of france" "Paris"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runTeach,
}

var bulkCmd = &cobra.Command{
	Use:   "bulk [file]",
	Short: "Teach every question/answer pair in a JSON or YAML file",
	Long: `Reads a list of objects with a "question" and either an "answer" or
a list of "answers", and teaches them with a single index rebuild.`,
	Args: cobra.ExactArgs(1),
	RunE: runBulk,
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Teach question/answer files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the semantic index from the knowledge store",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (default ./learnbot.yaml or ~/.config/learnbot/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(chatCmd, askCmd, teachCmd, bulkCmd, watchCmd, reindexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isChat reports whether cmd starts the TUI: the bare root or "chat".
func isChat(cmd *cobra.Command) bool {
	return !cmd.HasParent() || cmd.Name() == "chat"
}

// withApp runs fn against a freshly assembled app and releases it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing stores", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func runChat(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		a.runBackground(ctx)
		m := tui.New(ctx, a.manager, uuid.NewString())
		_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		return err
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		resp, err := a.manager.Handle(ctx, conversation.Request{
			SessionID: conversation.DefaultSessionID,
			Question:  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		printResponse(cmd, resp)
		return nil
	})
}

func runTeach(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		resp, err := a.manager.Teach(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printResponse(cmd, resp)
		return nil
	})
}

func runBulk(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := ingest.NewWatcher(a.manager, 0, logger).IngestFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Learned %d answers (%d already known, %d skipped).\n", res.Added, res.Duplicates, res.Skipped)
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		a.runBackground(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for question/answer files. Press Ctrl+C to stop.\n", args[0])
		return ingest.NewWatcher(a.manager, 0, logger).Run(ctx, args[0])
	})
}

func runReindex(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.engine.Rebuild(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d questions.\n", a.engine.Size())
		return nil
	})
}

func printResponse(cmd *cobra.Command, resp conversation.Response) {
	if resp.Answer != "" {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
	}
	if resp.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	}
	if resp.Source == domain.SourceExternal {
		fmt.Fprintln(cmd.OutOrStdout(), "(found online and learned)")
	}
}
