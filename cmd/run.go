package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/revloop/internal/agent"
	"github.com/revloop/internal/audit"
	"github.com/revloop/internal/classify"
	"github.com/revloop/internal/config"
	"github.com/revloop/internal/guard"
	"github.com/revloop/internal/llm"
	"github.com/revloop/internal/logging"
	"github.com/revloop/internal/platform/gitlab"
	"github.com/revloop/internal/run"
	"github.com/revloop/internal/session"
	"github.com/revloop/internal/state"
	"github.com/revloop/internal/tasks"
	"github.com/revloop/internal/tools"
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Detect and execute pending review tasks on a merge request",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "review",
				Usage: "Queue a full review in addition to pending tasks",
			},
			&cli.BoolFlag{
				Name:  "manual",
				Usage: "Mark the review as developer-requested (does not gate the merge)",
			},
			&cli.StringFlag{
				Name:  "triggered-by",
				Usage: "Event or actor that started this run",
				Value: "cli",
			},
			&cli.StringFlag{
				Name:  "trigger-comment",
				Usage: "Comment ID of the request, for manual reviews",
			},
			&cli.StringFlag{
				Name:  "workspace",
				Usage: "Path to the checked-out repository the agent works in",
				Value: ".",
			},
		},
		Action: runRun,
	}
}

func runRun(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()[:8]
	runLogger, err := logging.StartRunLogging(runID)
	if err != nil {
		log.Warn().Err(err).Msg("Run log unavailable, continuing without it")
		runLogger = nil
	}
	defer runLogger.Close()

	host, err := gitlab.New(gitlab.Config{
		URL:        cfg.Platform.URL,
		Token:      cfg.Platform.Token,
		RequestURL: cfg.Platform.RequestURL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to platform: %w", err)
	}
	if err := host.CheckReviewable(ctx); err != nil {
		return err
	}

	connector, err := llm.NewConnector(ctx, llm.ConnectorOptions{
		Provider: llm.Provider(cfg.AI.Provider),
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		Model:    cfg.AI.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create model connector: %w", err)
	}
	model := llm.NewResilient(connector, runLogger)

	bots := cfg.BotIdentities()
	store := state.NewStore(host, bots, cfg.Platform.RequestURL)
	classifier := classify.New(model)
	auditLog := audit.NewLog()

	sessionOrch := session.NewOrchestrator(
		agent.NewHTTPClient(cfg.Agent.URL),
		host, store, classifier,
		session.Config{
			Timeout:               cfg.Timeout(),
			MaxRetries:            cfg.Review.MaxRetries,
			ProblemThreshold:      cfg.Scoring.ProblemThreshold,
			BlockingThreshold:     cfg.Scoring.BlockingThreshold,
			EnableHumanEscalation: cfg.Dispute.EnableHumanEscalation,
			WorkspaceRoot:         c.String("workspace"),
		},
		runLogger,
	)
	sessionOrch.SetInjectionScreen(guard.NewInjectionScreen(model, auditLog, cfg.Security.InjectionDetectionEnabled))

	toolServer := tools.NewServer(tools.NewService(
		store, host, sessionOrch,
		guard.NewPublicationScreen(model, auditLog),
		auditLog,
		tools.Config{
			ProblemThreshold:      cfg.Scoring.ProblemThreshold,
			EnableHumanEscalation: cfg.Dispute.EnableHumanEscalation,
			HumanReviewers:        cfg.Dispute.HumanReviewers,
		},
	))
	go func() {
		if err := toolServer.Start(cfg.Tools.ListenAddr); err != nil {
			log.Error().Err(err).Msg("Tool server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := toolServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Tool server shutdown failed")
		}
	}()

	detector := tasks.NewDetector(host, store, classifier, bots, cfg.Platform.BotHandle)
	runner := run.New(runID, detector, sessionOrch, store, host, runLogger)

	summary, err := runner.Execute(ctx, tasks.Trigger{
		FullReview:       c.Bool("review"),
		IsManual:         c.Bool("manual"),
		TriggerCommentID: c.String("trigger-comment"),
		TriggeredBy:      c.String("triggered-by"),
	})
	if err != nil {
		return err
	}

	printSummary(summary)

	if summary.Failed() > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d tasks failed", summary.Failed(), summary.TotalTasks), 1)
	}
	if summary.AutoReviewBlocked {
		return cli.Exit("review found blocking issues", 1)
	}
	return nil
}

func printSummary(summary run.Summary) {
	fmt.Printf("Run %s: %d tasks, %d failed\n", summary.RunID, summary.TotalTasks, summary.Failed())
	for _, r := range summary.Results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Err.Error()
		}
		fmt.Printf("  %-30s %s\n", r.Key, status)
	}
	if summary.ReviewCompleted {
		fmt.Printf("Review: %d open issues, %d blocking\n", summary.IssuesFound, summary.BlockingIssues)
		if summary.HasBlockingIssues && !summary.AutoReviewBlocked {
			fmt.Println("Blocking issues found by a manual review do not gate the merge.")
		}
	}
}
