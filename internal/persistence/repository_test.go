package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imaddar/pair-match/internal/domain"
)

func TestInMemoryRepository_Contract(t *testing.T) {
	t.Parallel()
	runRepositoryContractTests(t, func(t *testing.T) Repository {
		t.Helper()
		return NewInMemoryRepository()
	})
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryRepository()
	ctx := context.Background()
	rec := sessionRecord("s1", time.Now().UTC())
	require.NoError(t, repo.CreateSession(ctx, rec))
	rec.Deck[0] = 51

	got, ok, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.Position(0), got.Deck[0], "stored deck was mutated through caller slice")
	got.Deck[1] = 50

	again, _, _ := repo.GetSession(ctx, "s1")
	require.Equal(t, domain.Position(1), again.Deck[1], "stored deck was mutated through returned slice")
}

func TestInMemoryRepository_AppendRevealRequiresExistingSession(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryRepository()
	err := repo.AppendReveal(context.Background(), RevealRecord{
		SessionID: "missing",
		Seq:       1,
		Kind:      RevealKindReveal,
		At:        time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInMemoryRepository_ConcurrentAppendAndReadIsSafe(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateSession(ctx, sessionRecord("s1", time.Now().UTC())))
	var wg sync.WaitGroup

	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.AppendReveal(ctx, RevealRecord{
				SessionID: "s1",
				Seq:       i,
				Kind:      RevealKindReveal,
				FromState: domain.StateFirstCardAwaits,
				ToState:   domain.StateSecondCardAwaits,
				At:        time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
			})
		}(i)
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = repo.GetSession(ctx, "s1")
			_, _ = repo.ListReveals(ctx, "s1")
			_, _ = repo.ListSessions(ctx, 10)
		}()
	}

	wg.Wait()

	reveals, err := repo.ListReveals(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, reveals, 100)
	for i, rec := range reveals {
		require.Equal(t, i+1, rec.Seq, "seq at index %d", i)
	}
}
