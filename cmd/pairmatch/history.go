package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imaddar/pair-match/internal/domain"
	"github.com/imaddar/pair-match/internal/persistence"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List recorded sessions, or show one session's reveals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			repo, closeRepo, err := openRepository(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeRepo() }()

			if len(args) == 1 {
				return printSessionHistory(ctx, a.out, repo, args[0])
			}
			return printSessionList(ctx, a.out, repo, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", persistence.DefaultListLimit, "maximum sessions to list")
	return cmd
}

func printSessionList(ctx context.Context, out io.Writer, repo persistence.Repository, limit int) error {
	records, err := repo.ListSessions(ctx, limit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no sessions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSOURCE\tSTATUS\tSCORE\tTRIES\tSTARTED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			rec.SessionID,
			rec.Source,
			rec.Status,
			rec.Score,
			domain.WinningScore,
			rec.TriedTimes,
			humanize.Time(rec.StartedAt),
		)
	}
	return tw.Flush()
}

func printSessionHistory(ctx context.Context, out io.Writer, repo persistence.Repository, sessionID string) error {
	rec, ok, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, persistence.ErrSessionNotFound)
	}
	reveals, err := repo.ListReveals(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list reveals: %w", err)
	}

	fmt.Fprintf(out, "session %s (%s, %s)\n", rec.SessionID, rec.Source, rec.Status)
	fmt.Fprintf(out, "  score %d, tried %d times, %d pairs, started %s\n", rec.Score, rec.TriedTimes, rec.Matches, humanize.Time(rec.StartedAt))
	if rec.EndedAt != nil {
		fmt.Fprintf(out, "  lasted %s\n", strings.TrimSpace(humanize.RelTime(rec.StartedAt, *rec.EndedAt, "", "")))
	}
	if rec.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", rec.Error)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tEVENT\tSLOT\tCARD\tFROM\tTO\t")
	for _, r := range reveals {
		slot, card := "-", "-"
		if r.Slot != nil {
			slot = fmt.Sprintf("%d", *r.Slot)
		}
		if r.Position != nil {
			card = domain.CardAt(*r.Position).Label()
		}
		note := ""
		switch {
		case r.Matched:
			note = "pair"
		case r.IsFallback:
			note = "fallback"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Seq, r.Kind, slot, card, r.FromState, r.ToState, note)
	}
	return tw.Flush()
}
