package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentx/aitalk/internal/config"
	"github.com/agentx/aitalk/internal/database"
	"github.com/agentx/aitalk/internal/llm"
	"github.com/agentx/aitalk/internal/logging"
	"github.com/agentx/aitalk/internal/models"
	"github.com/agentx/aitalk/internal/repository/sqlstore"
	"github.com/agentx/aitalk/internal/scheduler"
	"github.com/agentx/aitalk/internal/services"
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var userID string

	root := &cobra.Command{
		Use:   "reports",
		Short: "Summarize recent conversations once and exit",
		Long: strings.TrimSpace(`reports runs the summary check for every user who talked within the
configured lookback period (or for a single user with --user). A user who
already has a summary from the last window is skipped.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, userID)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().StringVar(&userID, "user", "", "Only summarize this user")

	root.AddCommand(newMigrateCommand())
	return root
}

func newMigrateCommand() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (or roll back the last one with --down)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if down {
				return database.RollbackMigration(cfg.Database)
			}

			db, err := database.NewConnection(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return database.RunMigrations(cmd.Context(), db, cfg.Database)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back the most recent migration")
	return cmd
}

func run(cmd *cobra.Command, userID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database); err != nil {
		return err
	}

	turnRepo := sqlstore.NewTurnRepository(db.DB)
	provider := llm.NewOpenAIProvider(llm.NewClient(cfg.OpenAI), cfg.OpenAI).WithMaxTokens(cfg.Summary.MaxTokens)
	summaries := services.NewSummaryService(turnRepo, sqlstore.NewSummaryRepository(db.DB), provider, cfg.Summary.Window, logger)

	out := cmd.OutOrStdout()
	if userID != "" {
		res, err := summaries.Run(ctx, userID)
		if err != nil {
			return err
		}
		printResult(out, userID, res)
		return nil
	}

	report, err := scheduler.New(summaries, turnRepo, cfg.Summary, logger).RunOnce(ctx)
	logger.WithFields(logrus.Fields{
		"users":   report.Users,
		"created": report.Created,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("Report run finished")
	fmt.Fprintf(out, "users=%d created=%d skipped=%d failed=%d\n", report.Users, report.Created, report.Skipped, report.Failed)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d users failed", report.Failed, report.Users)
	}
	return nil
}

func printResult(out io.Writer, userID string, res *services.SummaryResult) {
	if res.Outcome != models.SummaryCreated || res.Record == nil {
		fmt.Fprintf(out, "%s: %s\n", userID, res.Outcome)
		return
	}
	fmt.Fprintf(out, "%s: %s (%d turns)\n%s\n", userID, res.Outcome, res.Record.TurnCount, res.Record.SummaryText)
}
