package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imaddar/pair-match/internal/domain"
)

func runRepositoryContractTests(t *testing.T, mkRepo func(t *testing.T) Repository) {
	t.Helper()

	t.Run("Contract_CreateAndGetSession", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()
		rec := sessionRecord("s1", baseTime())

		require.NoError(t, repo.CreateSession(ctx, rec))

		got, ok, err := repo.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)
		requireSessionEqual(t, rec, got)

		_, ok, err = repo.GetSession(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Contract_CreateDuplicateSession", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()
		rec := sessionRecord("dup", baseTime())

		require.NoError(t, repo.CreateSession(ctx, rec))
		require.ErrorIs(t, repo.CreateSession(ctx, rec), ErrSessionAlreadyExists)
	})

	t.Run("Contract_UpdateSession", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()
		rec := sessionRecord("s1", baseTime())
		require.NoError(t, repo.CreateSession(ctx, rec))

		ended := rec.StartedAt.Add(3 * time.Minute)
		rec.Status = SessionStatusFinished
		rec.FinalState = domain.StateGameFinished
		rec.Score = domain.WinningScore
		rec.Matches = domain.PairCount
		rec.TriedTimes = 61
		rec.EndedAt = &ended
		require.NoError(t, repo.UpdateSession(ctx, rec))

		got, ok, err := repo.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.True(t, ok)
		requireSessionEqual(t, rec, got)

		missing := sessionRecord("missing", baseTime())
		require.ErrorIs(t, repo.UpdateSession(ctx, missing), ErrSessionNotFound)
	})

	t.Run("Contract_ListSessionsMostRecentFirst", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()
		start := baseTime()
		for i, id := range []string{"s-old", "s-mid", "s-new"} {
			require.NoError(t, repo.CreateSession(ctx, sessionRecord(id, start.Add(time.Duration(i)*time.Minute))))
		}

		all, err := repo.ListSessions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, []string{"s-new", "s-mid", "s-old"}, sessionIDs(all))

		limited, err := repo.ListSessions(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, []string{"s-new", "s-mid"}, sessionIDs(limited))
	})

	t.Run("Contract_AppendRevealRequiresSession", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()

		err := repo.AppendReveal(ctx, revealRecord("missing", 1, 0))
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("Contract_AppendAndListRevealsInSequence", func(t *testing.T) {
		repo := mkRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateSession(ctx, sessionRecord("s1", baseTime())))

		require.NoError(t, repo.AppendReveal(ctx, revealRecord("s1", 2, 13)))
		require.NoError(t, repo.AppendReveal(ctx, revealRecord("s1", 1, 0)))
		recoverStep := RevealRecord{
			SessionID: "s1",
			Seq:       3,
			Kind:      RevealKindRecover,
			FromState: domain.StateCardMatchFailed,
			ToState:   domain.StateFirstCardAwaits,
			At:        baseTime().Add(3 * time.Second),
		}
		require.NoError(t, repo.AppendReveal(ctx, recoverStep))
		require.ErrorIs(t, repo.AppendReveal(ctx, revealRecord("s1", 1, 5)), ErrRevealAlreadyExists)

		reveals, err := repo.ListReveals(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, reveals, 3)
		require.Equal(t, 1, reveals[0].Seq)
		require.Equal(t, 2, reveals[1].Seq)
		require.NotNil(t, reveals[1].Position)
		require.Equal(t, domain.Position(13), *reveals[1].Position)
		require.NotNil(t, reveals[1].Slot)
		require.Equal(t, 13, *reveals[1].Slot)
		require.True(t, reveals[1].IsFallback)
		require.Equal(t, RevealKindRecover, reveals[2].Kind)
		require.Nil(t, reveals[2].Slot)
		require.Nil(t, reveals[2].Position)
		require.True(t, recoverStep.At.Equal(reveals[2].At))

		empty, err := repo.ListReveals(ctx, "other")
		require.NoError(t, err)
		require.Empty(t, empty)
	})
}

func baseTime() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)
}

func sessionRecord(id string, started time.Time) SessionRecord {
	return SessionRecord{
		SessionID:       id,
		Source:          "test",
		Status:          SessionStatusRunning,
		Deck:            domain.OrderedDeck(),
		FinalState:      domain.StateFirstCardAwaits,
		MismatchDelayMS: domain.DefaultMismatchDelayMS,
		StartedAt:       started,
	}
}

func revealRecord(sessionID string, seq int, position domain.Position) RevealRecord {
	slot := int(position)
	return RevealRecord{
		SessionID:  sessionID,
		Seq:        seq,
		Kind:       RevealKindReveal,
		Slot:       &slot,
		Position:   &position,
		FromState:  domain.StateFirstCardAwaits,
		ToState:    domain.StateSecondCardAwaits,
		IsFallback: seq == 2,
		At:         baseTime().Add(time.Duration(seq) * time.Second),
	}
}

func requireSessionEqual(t *testing.T, want, got SessionRecord) {
	t.Helper()
	require.Equal(t, want.SessionID, got.SessionID)
	require.Equal(t, want.Source, got.Source)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.Deck, got.Deck)
	require.Equal(t, want.FinalState, got.FinalState)
	require.Equal(t, want.Score, got.Score)
	require.Equal(t, want.TriedTimes, got.TriedTimes)
	require.Equal(t, want.Matches, got.Matches)
	require.Equal(t, want.MismatchDelayMS, got.MismatchDelayMS)
	require.True(t, want.StartedAt.Equal(got.StartedAt), "started_at: want %s got %s", want.StartedAt, got.StartedAt)
	if want.EndedAt == nil {
		require.Nil(t, got.EndedAt)
	} else {
		require.NotNil(t, got.EndedAt)
		require.True(t, want.EndedAt.Equal(*got.EndedAt), "ended_at: want %s got %s", *want.EndedAt, *got.EndedAt)
	}
	require.Equal(t, want.Error, got.Error)
}

func sessionIDs(records []SessionRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.SessionID)
	}
	return out
}
