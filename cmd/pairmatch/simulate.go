package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/imaddar/pair-match/internal/agentclient"
	"github.com/imaddar/pair-match/internal/config"
	"github.com/imaddar/pair-match/internal/gamerunner"
	"github.com/imaddar/pair-match/internal/rules"
)

const (
	strategyMemory = "memory"
	strategyRandom = "random"
	strategyAgent  = "agent"

	// A random player needs far more reveals than the runner default allows.
	randomMaxReveals = 1 << 16
)

type simulateOptions struct {
	Sessions   int
	Strategy   string
	Seed       int64
	Seeded     bool
	ReportPath string
	Quiet      bool
}

func newSimulateCmd(a *app) *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play games with a bot and report the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Seeded = cmd.Flags().Changed("seed")
			return runSimulate(cmd.Context(), a, opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.Sessions, "sessions", 100, "number of games to play")
	flags.StringVar(&opts.Strategy, "strategy", strategyMemory, "reveal strategy: memory, random or agent")
	flags.Int64Var(&opts.Seed, "seed", 0, "seed for dealing and the random strategy")
	flags.StringVar(&opts.ReportPath, "report", "", "write a JSON report to this path")
	flags.BoolVar(&opts.Quiet, "quiet", false, "skip the text summary")
	flags.String("agent-endpoint", "", "agent URL for the agent strategy")
	flags.Int("agent-timeout-ms", config.DefaultAgentTimeoutMS, "agent HTTP timeout")
	bindFlags(a.v, cmd, map[string]string{
		"agent-endpoint":   config.KeyAgentEndpoint,
		"agent-timeout-ms": config.KeyAgentTimeoutMS,
	})
	return cmd
}

func runSimulate(ctx context.Context, a *app, opts simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Sessions <= 0 {
		return gamerunner.ErrInvalidSessionsToRun
	}

	provider, maxReveals, err := buildProvider(a.cfg, opts)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo() }()

	shuffler := rules.NewCryptoShuffler()
	if opts.Seeded {
		shuffler = rules.NewSeededShuffler(opts.Seed)
	}

	hooks := newLedgerHooks(repo, "simulate:"+opts.Strategy, a.logger)
	runnerConfig := gamerunner.RunnerConfig{
		MaxRevealsPerSession: maxReveals,
		Sleep:                gamerunner.NoSleep,
		Logger:               a.logger,
		OnSessionComplete: func(summary gamerunner.SessionSummary) {
			a.logger.Debug(
				"session complete",
				"session_id", summary.SessionID,
				"tried_times", summary.TriedTimes,
				"reveals", summary.RevealCount,
				"fallbacks", summary.FallbackCount,
			)
		},
	}
	hooks.install(&runnerConfig)
	runner := gamerunner.New(provider, runnerConfig)

	a.logger.Info("starting simulation", "sessions", opts.Sessions, "strategy", opts.Strategy)
	started := time.Now()
	result, err := runner.RunSessions(ctx, gamerunner.RunSessionsInput{
		SessionsToRun: opts.Sessions,
		Shuffler:      shuffler,
		Config:        a.cfg.SessionConfig(),
	})
	if err != nil {
		hooks.finish(err)
		return fmt.Errorf("simulation stopped after %d sessions: %w", result.SessionsCompleted, err)
	}

	report := buildSimulationReport(buildSimulationReportInput{
		Strategy:          opts.Strategy,
		Seed:              seedPtr(opts),
		SessionsRequested: opts.Sessions,
		Result:            result,
		Elapsed:           time.Since(started),
	})
	a.logger.Info(
		"simulation complete",
		"sessions_completed", report.SessionsCompleted,
		"total_reveals", report.TotalReveals,
		"total_fallbacks", report.TotalFallbacks,
		"mean_tried_times", report.MeanTriedTimes,
	)

	if !opts.Quiet {
		fmt.Fprint(a.out, renderSimulationOutput(report))
	}
	if opts.ReportPath != "" {
		if err := writeSimulationReportJSON(opts.ReportPath, report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

func buildProvider(cfg config.Config, opts simulateOptions) (gamerunner.RevealProvider, int, error) {
	switch strings.ToLower(opts.Strategy) {
	case strategyMemory:
		return gamerunner.NewMemoryBot(), 0, nil
	case strategyRandom:
		seed := opts.Seed
		if !opts.Seeded {
			seed = time.Now().UnixNano()
		}
		return gamerunner.NewRandomBot(seed), randomMaxReveals, nil
	case strategyAgent:
		if cfg.AgentEndpoint == "" {
			return nil, 0, agentclient.ErrEndpointNotConfigured
		}
		return agentclient.RevealProvider{
			Client:            agentclient.New(cfg.AgentTimeout),
			Endpoints:         agentclient.StaticEndpoint(cfg.AgentEndpoint),
			DefaultDeadlineMS: uint64(cfg.AgentTimeout / time.Millisecond),
		}, 0, nil
	default:
		return nil, 0, fmt.Errorf("unknown strategy %q", opts.Strategy)
	}
}

func seedPtr(opts simulateOptions) *int64 {
	if !opts.Seeded {
		return nil
	}
	seed := opts.Seed
	return &seed
}
