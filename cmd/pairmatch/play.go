package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imaddar/pair-match/internal/gamerunner"
	"github.com/imaddar/pair-match/internal/presenter"
	"github.com/imaddar/pair-match/internal/rules"
)

func newPlayCmd(a *app) *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one game in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			shuffler := rules.NewCryptoShuffler()
			if cmd.Flags().Changed("seed") {
				shuffler = rules.NewSeededShuffler(seed)
			}
			return runPlay(cmd.Context(), a, shuffler)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "deal a reproducible deck")
	return cmd
}

func runPlay(parent context.Context, a *app, shuffler rules.Shuffler) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	repo, closeRepo, err := openRepository(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo() }()

	board := presenter.NewTerminal(a.out)
	hooks := newLedgerHooks(repo, "play", a.logger)
	runnerConfig := gamerunner.RunnerConfig{
		Sleep:     gamerunner.Sleep,
		Presenter: board,
		Logger:    a.logger,
	}
	hooks.install(&runnerConfig)
	runner := gamerunner.New(newHumanProvider(a.in, a.out, board, cancel), runnerConfig)

	result, err := runner.RunSession(ctx, gamerunner.RunSessionInput{
		Shuffler: shuffler,
		Config:   a.cfg.SessionConfig(),
	})
	if err != nil {
		if errors.Is(err, gamerunner.ErrContextCancelled) {
			hooks.finish(nil)
			fmt.Fprintf(a.out, "\n  Left after %d tries with %d points.\n", hooks.last.TriedTimes, hooks.last.Score)
			return nil
		}
		hooks.finish(err)
		return err
	}
	board.Render()
	a.logger.Info("game complete", "session_id", result.Summary.SessionID, "tried_times", result.Summary.TriedTimes, "duration", result.Summary.Duration)
	return nil
}
